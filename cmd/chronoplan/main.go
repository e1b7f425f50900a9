// chronoplan plans a chronomap.Map's physical layout from the command line,
// without allocating any backing storage.
//
// Usage:
//
//	chronoplan plan --entries 1000000 --avg-key-size 16 --avg-value-size 64
//	chronoplan check --entries 1000000 --avg-key-size 16 --avg-value-size 64 --actual-chunk-size 48
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sachin-handiekar/chronomap/chronomap"
	"github.com/sachin-handiekar/chronomap/internal/sizing"
	"github.com/sachin-handiekar/chronomap/marshal"
)

type planFlags struct {
	entries                     int64
	avgKeySize                  float64
	avgValueSize                float64
	actualChunkSize             int64
	actualSegments              int64
	minSegments                 int64
	valueAlignment              int64
	replicated                  bool
	persisted                   bool
	maxBloatFactor              float64
	nonTieredSegmentsPercentile float64
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.entries, "entries", 1<<20, "upper bound on logical entry count")
	cmd.Flags().Float64Var(&f.avgKeySize, "avg-key-size", 16, "average serialized key size in bytes")
	cmd.Flags().Float64Var(&f.avgValueSize, "avg-value-size", 64, "average serialized value size in bytes")
	cmd.Flags().Int64Var(&f.actualChunkSize, "actual-chunk-size", 0, "override the computed chunk size (0 = auto)")
	cmd.Flags().Int64Var(&f.actualSegments, "actual-segments", 0, "override the computed segment count (0 = auto)")
	cmd.Flags().Int64Var(&f.minSegments, "min-segments", 0, "floor the segment count (0 = none)")
	cmd.Flags().Int64Var(&f.valueAlignment, "value-alignment", 0, "value byte alignment, a power of two (0 = none)")
	cmd.Flags().BoolVar(&f.replicated, "replicated", false, "add per-entry replication metadata")
	cmd.Flags().BoolVar(&f.persisted, "persisted", false, "plan as if file-backed, for checksum-if-persisted resolution")
	cmd.Flags().Float64Var(&f.maxBloatFactor, "max-bloat-factor", 1.0, "bound on total memory expansion via tiers, in [1, 1000]")
	cmd.Flags().Float64Var(&f.nonTieredSegmentsPercentile, "non-tiered-percentile", 0.99999, "load percentile segments must fit without tiering")
}

func (f *planFlags) build() (chronomap.Layout, error) {
	b := chronomap.NewBuilder[[]byte, []byte](marshal.Bytes{}, marshal.Bytes{}).
		Entries(f.entries).
		AverageKeySize(f.avgKeySize).
		AverageValueSize(f.avgValueSize).
		Persisted(f.persisted).
		MaxBloatFactor(f.maxBloatFactor).
		NonTieredSegmentsPercentile(f.nonTieredSegmentsPercentile).
		Replicated(f.replicated)

	if f.actualChunkSize > 0 {
		b = b.ActualChunkSize(f.actualChunkSize)
	}
	if f.actualSegments > 0 {
		b = b.ActualSegments(f.actualSegments)
	}
	if f.minSegments > 0 {
		b = b.MinSegments(f.minSegments)
	}
	if f.valueAlignment > 0 {
		b = b.ValueAlignment(f.valueAlignment)
	}

	return b.CreateLayout()
}

// layoutJSON is printLayout's wire shape: chronomap.Layout plus the two
// derived sizes (SegmentSize, TotalSize) a caller would otherwise have to
// recompute, all under explicit lower-camel-case field names independent
// of the Go struct's exported names.
type layoutJSON struct {
	Mode                  string `json:"mode"`
	Segments              int64  `json:"segments"`
	EntriesPerSegment     int64  `json:"entriesPerSegment"`
	ChunkSize             int64  `json:"chunkSize"`
	ChunksPerSegment      int64  `json:"chunksPerSegment"`
	HashLookupSlotBytes   int    `json:"hashLookupSlotBytes"`
	HashLookupKeyBits     int    `json:"hashLookupKeyBits"`
	HashLookupValueBits   int    `json:"hashLookupValueBits"`
	SegmentHeaderBytes    int    `json:"segmentHeaderBytes"`
	ValueAlignment        int64  `json:"valueAlignment"`
	WorstAlignmentPadding int64  `json:"worstAlignmentPadding"`
	SegmentInnerOffset    int64  `json:"segmentInnerOffset"`
	MaxChunksPerEntry     int64  `json:"maxChunksPerEntry"`
	MaxExtraTiers         int64  `json:"maxExtraTiers"`
	Checksums             bool   `json:"checksums"`
	Replicated            bool   `json:"replicated"`
	SegmentSizeBytes      int64  `json:"segmentSizeBytes"`
	TotalSizeBytes        int64  `json:"totalSizeBytes"`
}

func printLayout(l chronomap.Layout) error {
	out := layoutJSON{
		Mode:                  l.Mode.String(),
		Segments:              l.Segments,
		EntriesPerSegment:     l.EntriesPerSegment,
		ChunkSize:             l.ChunkSize,
		ChunksPerSegment:      l.ChunksPerSegment,
		HashLookupSlotBytes:   l.HashLookupSlotBytes,
		HashLookupKeyBits:     l.HashLookupKeyBits,
		HashLookupValueBits:   l.HashLookupValueBits,
		SegmentHeaderBytes:    l.SegmentHeaderBytes,
		ValueAlignment:        l.ValueAlignment,
		WorstAlignmentPadding: l.WorstAlignmentPadding,
		SegmentInnerOffset:    l.SegmentInnerOffset,
		MaxChunksPerEntry:     l.MaxChunksPerEntry,
		MaxExtraTiers:         l.MaxExtraTiers,
		Checksums:             l.Checksums,
		Replicated:            l.Replicated,
		SegmentSizeBytes:      l.SegmentSize(),
		TotalSizeBytes:        l.TotalSize(),
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func newPlanCmd() *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute and print the physical layout for a given configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := f.build()
			if err != nil {
				return err
			}
			return printLayout(layout)
		},
	}
	f.register(cmd)
	return cmd
}

func newCheckCmd() *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration and run the P4 load-percentile check",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := f.build()
			if err != nil {
				return err
			}
			fmt.Println("ok")

			average := float64(f.entries) / float64(layout.Segments)
			exceeded := int64(0)
			for i := int64(0); i < layout.Segments; i++ {
				k, ok := sizing.InverseCDF(average, f.nonTieredSegmentsPercentile)
				if !ok {
					return fmt.Errorf("InverseCDF(%v, %v): out of domain", average, f.nonTieredSegmentsPercentile)
				}
				if k > layout.EntriesPerSegment {
					exceeded++
				}
			}
			if exceeded > 0 {
				fmt.Printf("p4: %d/%d sampled segments would exceed entriesPerSegment=%d at percentile %v\n",
					exceeded, layout.Segments, layout.EntriesPerSegment, f.nonTieredSegmentsPercentile)
			} else {
				fmt.Printf("p4: entriesPerSegment=%d holds at percentile %v across all %d segments\n",
					layout.EntriesPerSegment, f.nonTieredSegmentsPercentile, layout.Segments)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:   "chronoplan",
		Short: "Plan chronomap layouts without allocating storage",
	}
	root.AddCommand(newPlanCmd(), newCheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
