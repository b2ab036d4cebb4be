// 离线布局工具：读取 GeoJSON 赏金要素，按给定视口计算覆盖层布局并输出 JSON
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/coordinator"
	"bounty-overlay/internal/overlay"
	"bounty-overlay/internal/webmap"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
)

type layoutOptions struct {
	in         string
	width      float64
	height     float64
	lon        float64
	lat        float64
	zoom       float64
	bearing    float64
	selected   []string
	focused    string
	drawerOpen bool
	compact    bool
}

type layoutOutput struct {
	Clusters   []aggregate.Cluster     `json:"clusters"`
	Labels     []overlay.LabelPosition `json:"labels"`
	Indicators []overlay.EdgeIndicator `json:"indicators"`
	Context    overlay.LayoutContext   `json:"context"`
}

func newRootCmd() *cobra.Command {
	var o layoutOptions
	cmd := &cobra.Command{
		Use:          "bounty-layout",
		Short:        "Compute the country overlay layout for a viewport",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if o.in != "-" {
				f, err := os.Open(o.in)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			config.LoadEnvFiles()
			return runLayout(o, config.Load().Overlay, in, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.in, "in", "-", "GeoJSON FeatureCollection file, - for stdin")
	f.Float64Var(&o.width, "width", 1280, "container width in px")
	f.Float64Var(&o.height, "height", 800, "container height in px")
	f.Float64Var(&o.lon, "lon", 0, "center longitude")
	f.Float64Var(&o.lat, "lat", 20, "center latitude")
	f.Float64Var(&o.zoom, "zoom", 2, "zoom level")
	f.Float64Var(&o.bearing, "bearing", 0, "bearing in degrees")
	f.StringSliceVar(&o.selected, "select", nil, "country ids to show, all when empty")
	f.StringVar(&o.focused, "focused", "", "country id to highlight")
	f.BoolVar(&o.drawerOpen, "drawer", false, "desktop drawer open")
	f.BoolVar(&o.compact, "compact", false, "compact display (drawer takes no width)")
	return cmd
}

// runLayout：解析要素 → 聚合 → 选择 → 布局
func runLayout(o layoutOptions, oc config.OverlayConfig, in io.Reader, out io.Writer) error {
	if o.width <= 0 || o.height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	features, err := bounty.ParseFeatureCollection(b)
	if err != nil {
		return err
	}
	clusters := aggregate.New().Aggregate(features)

	selected := clusters
	if len(o.selected) > 0 {
		want := make(map[string]struct{}, len(o.selected))
		for _, id := range o.selected {
			want[bounty.NormalizeCode(id)] = struct{}{}
		}
		selected = make([]aggregate.Cluster, 0, len(want))
		for _, c := range clusters {
			if _, ok := want[c.ID]; ok {
				selected = append(selected, c)
			}
		}
	}

	offset := 0.0
	if o.drawerOpen && !o.compact {
		offset = oc.DrawerWidth
	}
	lc := overlay.NewLayoutContext(o.width, o.height, offset, oc.Params())
	m := webmap.New(o.width, o.height, webmap.Camera{Center: orb.Point{o.lon, o.lat}, Zoom: o.zoom, Bearing: o.bearing})
	labels, indicators := coordinator.Layout(m, selected, bounty.NormalizeCode(o.focused), lc)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(layoutOutput{Clusters: clusters, Labels: labels, Indicators: indicators, Context: lc})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
