// SPDX-License-Identifier: ice License 1.0

package main

import (
	"log"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/devbridge/bridge"
	"github.com/ice-blockchain/devbridge/cfg"
	"github.com/ice-blockchain/devbridge/document"
	"github.com/ice-blockchain/devbridge/sandbox"
	"github.com/ice-blockchain/devbridge/server"
)

var (
	configPath string
	port       uint16
	root       string
	devbridge  = &cobra.Command{
		Use:   "devbridge",
		Short: "local dev server bridging http and websocket traffic into an in-process sandbox",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg.MustInit(configPath)
			serverCfg := cfg.MustGet[server.Config]()
			if cmd.Flags().Changed("port") {
				serverCfg.Port = port
			}
			documentCfg := cfg.MustGet[document.Config]()
			if root != "" {
				documentCfg.Root = root
			}
			runtime, err := sandbox.New(newDemoWorker(), cfg.MustGet[sandbox.Config]())
			if err != nil {
				log.Panic(errors.Wrap(err, "failed to start sandbox"))
			}
			defer func() {
				if cErr := runtime.Close(); cErr != nil {
					log.Printf("ERROR:%v", cErr)
				}
			}()
			srv, err := server.New(serverCfg, runtime, cfg.MustGet[bridge.Config](), documentCfg)
			if err != nil {
				log.Panic(errors.Wrap(err, "failed to set up server"))
			}
			if err = srv.ListenAndServe(cmd.Context()); err != nil {
				log.Printf("ERROR:%v", err)
			}
		},
	}
	initFlags = func() {
		devbridge.Flags().StringVar(&configPath, "config", "application.yaml", "path to the yaml configuration")
		devbridge.Flags().Uint16Var(&port, "port", 0, "port to listen on for http/websocket clients (overrides server.port)")
		devbridge.Flags().StringVar(&root, "root", "", "directory holding the document template (overrides document.root)")
	}
)

func init() {
	initFlags()
}

func main() {
	if err := devbridge.Execute(); err != nil {
		log.Panic(err)
	}
}
