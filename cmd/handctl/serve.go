package main

import (
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP+WebSocket diagnostics gateway (pkg/gateway)",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandlerWith(true)
		if err != nil {
			return err
		}
		defer h.Close()
		return serveGateway(h, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8765", "listen address")
}
