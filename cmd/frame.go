package cmd

import (
	"bufio"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mwaldrep/downlink/ccsds"
)

var (
	frameConfigPath  string
	frameIncludeVCID []int
	frameExcludeVCID []int
)

// frameCmd represents the frame command
var frameCmd = &cobra.Command{
	Use:   "frame <infile> <outfile>",
	Short: "Decode a CADU stream into raw transfer frames",
	Long: `Synchronize on the ASM, remove pseudo-noise, perform Reed-Solomon,
and write the recovered transfer frames without parity to outfile.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := DefaultDecodeConfig()
		if frameConfigPath != "" {
			var err error
			if cfg, err = LoadDecodeConfig(frameConfigPath); err != nil {
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

		count, dropped := 0, 0
		for {
			df, err := frames.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if !vcidSelected(df.Frame.Header.VCID, frameIncludeVCID, frameExcludeVCID) {
				continue
			}
			if df.Missing > 0 {
				log.WithFields(log.Fields{
					"vcid":    df.Frame.Header.VCID,
					"missing": df.Missing,
				}).Debug("counter gap")
			}
			if !df.Integrity.Ok() && df.Integrity != ccsds.IntegritySkipped {
				dropped++
				continue
			}
			if _, err := out.Write(df.Frame.Data); err != nil {
				return err
			}
			count++
		}
		log.WithFields(log.Fields{"frames": count, "dropped": dropped}).Info("frame decode done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.Flags().StringVarP(&frameConfigPath, "config", "c", "", "decode config YAML")
	frameCmd.Flags().IntSliceVar(&frameIncludeVCID, "include", nil, "only keep these VCIDs")
	frameCmd.Flags().IntSliceVar(&frameExcludeVCID, "exclude", nil, "drop these VCIDs")
}
