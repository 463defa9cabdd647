package middleware

import (
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS applies the dashboard policy (configured origins, credentials) to every
// route except publicPaths, which are called from widgets on arbitrary sites
// and accept any origin without credentials.
func CORS(dashboardOrigins []string, publicPaths ...string) gin.HandlerFunc {
	dashboard := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	var origins []string
	for _, o := range dashboardOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		dashboard.AllowAllOrigins = true
		dashboard.AllowCredentials = false
	} else {
		dashboard.AllowOrigins = origins
	}

	widget := cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders:   []string{RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}

	dashboardHandler := cors.New(dashboard)
	widgetHandler := cors.New(widget)
	return func(c *gin.Context) {
		if slices.Contains(publicPaths, c.Request.URL.Path) {
			widgetHandler(c)
			return
		}
		dashboardHandler(c)
	}
}
