package cmd

import (
	"github.com/spf13/cobra"

	"transcode-service/config"
	server2 "transcode-service/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and transcode worker pool",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
