package cmd

import (
	"bufio"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mwaldrep/downlink/ccsds"
)

var packetsConfigPath string

// packetsCmd represents the packets command
var packetsCmd = &cobra.Command{
	Use:   "packets <infile> <outfile>",
	Short: "Decode a CADU stream all the way to space packets",
	Long: `Run the full pipeline: synchronize, derandomize, Reed-Solomon,
frame parsing, and packet reassembly. Complete packets are written
back to back to outfile.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := DefaultDecodeConfig()
		if packetsConfigPath != "" {
			var err error
			if cfg, err = LoadDecodeConfig(packetsConfigPath); err != nil {
				return err
			}
		}
		if err := cfg.resolve(); err != nil {
			return err
		}

		src, err := openSource(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer dst.Close()
		out := bufio.NewWriter(dst)
		defer out.Flush()

		frames := startFrames(cfg, bufio.NewReader(src))
		defer frames.Close()

		extractor := ccsds.NewPacketExtractor(cfg.IzoneLength, cfg.TrailerLength)
		drops := 0
		extractor.Report = func(r ccsds.FrameReport) {
			if r.Dropped {
				drops++
				log.WithFields(log.Fields{
					"vcid":   r.VCID,
					"reason": r.Reason.String(),
				}).Debug("dropped partial packet")
			}
		}

		packets := extractor.Packets(frames)
		count := 0
		for {
			p, err := packets.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if _, err := out.Write(p.Packet.Data); err != nil {
				return err
			}
			count++
		}
		log.WithFields(log.Fields{"packets": count, "drops": drops}).Info("packet decode done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packetsCmd)
	packetsCmd.Flags().StringVarP(&packetsConfigPath, "config", "c", "", "decode config YAML")
}
