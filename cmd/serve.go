package cmd

import (
	"bufio"
	"io"
	"net"
	"strconv"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mwaldrep/downlink/ccsds"
	"github.com/mwaldrep/downlink/server"
)

var serveConfigPath string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve <infile>",
	Short: "Decode a CADU stream and relay packets over websockets",
	Long: `Run the decode pipeline against infile and serve the resulting
packets to websocket clients subscribed by APID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := DefaultDecodeConfig()
		if serveConfigPath != "" {
			var err error
			if cfg, err = LoadDecodeConfig(serveConfigPath); err != nil {
				return err
			}
		}
		if err := cfg.resolve(); err != nil {
			return err
		}

		host, port := splitListen(cfg.Listen)
		channel := make(chan ccsds.DecodedPacket, 300)
		serv := &server.Server{
			Host:       host,
			Port:       port,
			PacketChan: channel,
		}

		go func() {
			defer close(channel)
			src, err := openSource(args[0])
			if err != nil {
				log.WithError(err).Error("opening source")
				return
			}
			defer src.Close()

			frames := startFrames(cfg, bufio.NewReader(src))
			defer frames.Close()

			packets := ccsds.NewPacketExtractor(cfg.IzoneLength, cfg.TrailerLength).Packets(frames)
			for {
				p, err := packets.Next()
				if err == io.EOF {
					log.Info("source stream finished")
					return
				}
				if err != nil {
					log.WithError(err).Error("pipeline failed")
					return
				}
				channel <- p
			}
		}()

		return serv.Run()
	},
}

func splitListen(listen string) (string, int) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 8000
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 8000
	}
	return host, port
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "decode config YAML")
}
