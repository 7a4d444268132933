/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datamanager/internal/config"
	"datamanager/internal/crash"
	"datamanager/internal/httpapi"
	applog "datamanager/internal/log"
	"datamanager/internal/storage/docstore"
	"datamanager/internal/storage/sqlstore"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			applog.Init(cfg.Logging.LogOptions())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return serveCmd
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight requests
// and persists every cached database.
func serve(ctx context.Context, cfg config.AppConfig) error {
	l := applog.WithComponent("server")

	docs, err := docstore.New(docstore.Options{Dir: cfg.Storage.JSONDir, Backups: cfg.Storage.JSONBackups})
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	dbs, err := sqlstore.New(sqlstore.Options{Dir: cfg.Storage.SQLiteDir, MaxOpenHandles: cfg.SQLite.MaxOpenHandles})
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer crash.Recover(filepath.Dir(cfg.Storage.SQLiteDir), dbs.CloseAll)

	api := httpapi.New(httpapi.Options{
		Docs:         docs,
		SQL:          dbs,
		StaticDir:    cfg.Server.StaticDir,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("json_dir", docs.Dir()),
			slog.String("sqlite_dir", dbs.Dir()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		l.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			l.Error("server failed", slog.Any("err", serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("graceful shutdown incomplete", slog.Any("err", err))
	}
	if err := dbs.CloseAll(); err != nil {
		l.Error("persist databases on shutdown", slog.Any("err", err))
		serveErr = errors.Join(serveErr, err)
	}
	l.Info("stopped")
	return serveErr
}
