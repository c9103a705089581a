package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/fcptest"
	"github.com/fcptools/fcpd/internal/configpaths"
	"github.com/fcptools/fcpd/internal/log"
	"github.com/fcptools/fcpd/internal/server/api"
	"github.com/fcptools/fcpd/internal/server/api/auth"
	"github.com/fcptools/fcpd/internal/server/api/handler"
	"github.com/fcptools/fcpd/internal/util"
)

const keyFileName = "fcpd.key.txt"

type Server struct {
	ApiServerConfig   api.ServerConfig `embed:"" prefix:"api."`
	ConnectionTimeout time.Duration    `help:"Per-connection operation timeout" default:"30s" env:"FCPD_CONNECTION_TIMEOUT"`
	Emulate           int              `help:"Number of emulated cards to attach at startup" default:"1" env:"FCPD_EMULATE"`
	NoAuth            bool             `help:"Disable API authentication (testing only)" env:"FCPD_NO_AUTH"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	s.ApiServerConfig.ConnectionTimeout = s.ConnectionTimeout

	logger.Info("Starting fcpd server", "addr", s.ApiServerConfig.Addr)

	if !s.NoAuth {
		keyFileDir, err := configpaths.DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve key file path: %w", err)
		}
		keyFilePath := path.Join(keyFileDir, keyFileName)
		if pwd, err := os.ReadFile(keyFilePath); err == nil {
			s.ApiServerConfig.Password = strings.TrimSpace(string(pwd))
		} else {
			newPwd, err := auth.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate new API password: %w", err)
			}
			if err := os.MkdirAll(keyFileDir, 0o700); err != nil {
				return fmt.Errorf("failed to create config dir for key file: %w", err)
			}
			if err := os.WriteFile(keyFilePath, []byte(newPwd), 0o600); err != nil {
				return fmt.Errorf("failed to write new API password to file: %w", err)
			}
			s.ApiServerConfig.Password = newPwd
			logger.Info("Generated API server password", "path", keyFilePath)
			logger.Info("-------------------------------------")
			logger.Info("Your fcpd API server password is:")
			logger.Info("-------------------------------------")
			logger.Info(newPwd)
			logger.Info("-------------------------------------")
			logger.Info("You can change this password at any time by editing the file")
		}
	}

	if s.ApiServerConfig.Addr == "" {
		logger.Error("API server address must be set (default :3654).")
		return fmt.Errorf("API server address must be set (default :3654)")
	}

	registry := cards.NewRegistry(logger, rawLogger)
	defer registry.Close()

	for i := 0; i < s.Emulate; i++ {
		card, err := registry.Attach(fcptest.New())
		if err != nil {
			return fmt.Errorf("attach emulated card: %w", err)
		}
		logger.Info("attached emulated card", "card", card.ID())
	}

	apiSrv := api.New(registry, s.ApiServerConfig, logger)
	r := apiSrv.Router()
	r.Register("ping", handler.Ping())
	r.Register("version", handler.Version())
	r.Register("card/list", handler.CardList(registry))
	r.Register("card/{id}/init", handler.CardInit(registry))
	r.Register("card/{id}/cmd", handler.CardCmd(registry))
	r.Register("card/{id}/meter-map", handler.CardMeterMap(registry))
	r.Register("card/{id}/meters", handler.CardMeters(registry))
	r.Register("card/{id}/labels", handler.CardLabels(registry))
	r.Register("card/{id}/labels/set", handler.CardLabelsSet(registry))
	r.RegisterStream("card/{id}/notify", handler.NotifyStream())

	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		if util.IsRunFromGUI() {
			fmt.Println("Press any key to exit...")
			var b []byte = make([]byte, 1)
			_, _ = os.Stdin.Read(b)
		}
		return err
	}

	if util.IsRunFromGUI() {
		go (func() {
			time.Sleep(250 * time.Millisecond)
			util.HideConsoleWindow()
		})()
	}

	<-ctx.Done()
	apiSrv.Close()
	return nil
}
