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
	filterAPIDs  []int
	filterInvert bool
)

// filterCmd represents the filter command
var filterCmd = &cobra.Command{
	Use:   "filter <infile> <outfile>",
	Short: "Filter a space packet file by APID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep := map[ccsds.APID]bool{}
		for _, apid := range filterAPIDs {
			keep[ccsds.APID(apid)] = true
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

		pr := ccsds.NewPacketReader(bufio.NewReader(src))
		kept, total := 0, 0
		for {
			p, _, err := pr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			total++
			selected := len(keep) == 0 || keep[p.Header.APID]
			if filterInvert {
				selected = !selected
			}
			if !selected {
				continue
			}
			if _, err := out.Write(p.Data); err != nil {
				return err
			}
			kept++
		}
		log.WithFields(log.Fields{"kept": kept, "total": total}).Info("filter done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filterCmd)
	filterCmd.Flags().IntSliceVarP(&filterAPIDs, "apid", "a", nil, "APIDs to keep")
	filterCmd.Flags().BoolVar(&filterInvert, "invert", false, "drop the listed APIDs instead")
}
