package terminal

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/app/terminal/controller"
	"github.com/decision-zk/decisiond/app/terminal/types"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// NewServer builds the HTTP server onto the app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
