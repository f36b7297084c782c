// Package keepsake is a small HTTP API backing a private photo gallery.
// It authenticates one shared secret, issues time-bounded JWTs, and serves
// image records partitioned into three fixed categories from MongoDB.
//
// The app is built to run as a stateless serverless function: the MongoDB
// handle is cached across warm invocations and revived on cold ones, and no
// request handling path is allowed to crash the host process.
package keepsake

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
)

// App wires together the connection handle, repository, token service,
// blob storage, and HTTP routes.
type App struct {
	Config *Config
	Echo   *echo.Echo
	Conn   *Conn
	Store  Store
	Tokens *TokenService
	Blobs  BlobStorage

	loginLimiter *LoginLimiter
}

// New builds a fully wired App from cfg. Nothing connects until the first
// request (or Start) needs the database.
func New(cfg *Config) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Conn:   NewConn(cfg.MongoURI, cfg.MongoDatabase),
	}
	a.Store = NewStore(a.Conn)
	a.Tokens = NewTokenService(cfg.SecretPassword, cfg.JWTSecret, cfg.TokenTTL)
	a.Blobs = NewBlobStorage(cfg)
	a.loginLimiter = NewLoginLimiter(cfg.LoginRateMax, cfg.LoginRateWindow)

	a.Echo.HideBanner = true
	a.setupMiddleware()
	a.setupRoutes()
	return a
}

// setupRoutes registers the API under every configured mount prefix. The
// deployment decides where the function is mounted (bare /api locally,
// platform-specific function paths in serverless hosts), so the same route
// tree is attached to each prefix.
func (a *App) setupRoutes() {
	e := a.Echo

	if a.Config.StorageMode == StorageDisk {
		e.Static("/uploads", a.Config.UploadsDir)
	}

	for _, base := range a.Config.BasePaths {
		g := e.Group(base)

		g.GET("/health", a.handleHealth)
		g.GET("/health/db", a.handleHealthDB)

		auth := g.Group("/auth")
		auth.POST("/login", a.handleLogin)
		auth.POST("/verify", a.handleVerify)
		auth.GET("/me", a.handleMe, a.RequireAuth)

		// Every image route goes through the warm-up middleware so no
		// repository call ever meets an unestablished connection.
		images := g.Group("/images", a.ensureDatabase)
		images.GET("/primary-gallery", a.handleGallery(CategoryPrimary), a.OptionalAuth)
		images.GET("/moments-gallery", a.handleGallery(CategoryMoments), a.OptionalAuth)
		images.GET("/letter", a.handleLetter, a.OptionalAuth)
		images.GET("/:id", a.handleGetImage)
		images.POST("", a.handleCreateImage, a.RequireAuth)
		images.POST("/bulk", a.handleBulkCreate, a.RequireAuth)
		images.PUT("/:id", a.handleUpdateImage, a.RequireAuth)
		images.DELETE("/:id", a.handleDeleteImage, a.RequireAuth)
	}
}

// Start validates required config and serves until the listener stops.
func (a *App) Start() error {
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("keepsake: %w", err)
	}
	return a.Echo.Start(a.Config.Addr)
}

// Shutdown stops the HTTP server and releases the database handle.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Echo.Shutdown(ctx); err != nil {
		return err
	}
	return a.Conn.Close(ctx)
}
