package cmd

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwaldrep/downlink/ccsds"
)

var infoTimecode string

type apidSummary struct {
	packets  int
	missing  int
	bytes    int
	lastSeq  uint16
	first    time.Time
	last     time.Time
	haveTime bool
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <packetfile>",
	Short: "Summarize a space packet file by APID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := openSource(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		decodeTime := timecodeDecoder(infoTimecode)
		summaries := map[ccsds.APID]*apidSummary{}

		pr := ccsds.NewPacketReader(bufio.NewReader(src))
		total := 0
		for {
			p, _, err := pr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			total++

			s, ok := summaries[p.Header.APID]
			if !ok {
				s = &apidSummary{lastSeq: p.Header.SequenceCount}
				summaries[p.Header.APID] = s
			} else {
				s.missing += int(ccsds.MissingPackets(p.Header.SequenceCount, s.lastSeq))
				s.lastSeq = p.Header.SequenceCount
			}
			s.packets++
			s.bytes += len(p.Data)

			if decodeTime != nil && p.Header.HasSecondaryHeader {
				if tc, err := decodeTime(p.UserData()); err == nil {
					utc := tc.UTC()
					if !s.haveTime || utc.Before(s.first) {
						s.first = utc
					}
					if !s.haveTime || utc.After(s.last) {
						s.last = utc
					}
					s.haveTime = true
				}
			}
		}

		apids := make([]int, 0, len(summaries))
		for apid := range summaries {
			apids = append(apids, int(apid))
		}
		sort.Ints(apids)

		fmt.Printf("%-6s %-8s %-8s %-10s %-27s %s\n", "APID", "Packets", "Missing", "Bytes", "First", "Last")
		for _, apid := range apids {
			s := summaries[ccsds.APID(apid)]
			first, last := "-", "-"
			if s.haveTime {
				first = s.first.Format(time.RFC3339Nano)
				last = s.last.Format(time.RFC3339Nano)
			}
			fmt.Printf("%-6d %-8d %-8d %-10d %-27s %s\n", apid, s.packets, s.missing, s.bytes, first, last)
		}
		fmt.Printf("total packets: %d\n", total)
		return nil
	},
}

// timecodeDecoder maps a flag value to a decoder over packet user data.
func timecodeDecoder(name string) func([]byte) (ccsds.Timecode, error) {
	switch name {
	case "cds":
		return func(buf []byte) (ccsds.Timecode, error) { return ccsds.DecodeCDS(2, 2, buf) }
	case "jpss":
		return ccsds.DecodeJPSS
	case "eos":
		return ccsds.DecodeEOS
	}
	return nil
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoTimecode, "timecode", "t", "none", "timecode format: cds, jpss, eos, none")
}
