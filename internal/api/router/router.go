package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/sheet-images/internal/api/handlers/image"
)

func Setup(h *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.GET("/manifest", h.Manifest) // current manifest
	api.GET("/image/:id", h.Get)     // rendition by id
	api.POST("/build", h.Build)      // run the pipeline once

	return r
}
