package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit and tokenizer mode.",
	},
	[]string{"version", "commit", "tokenizer"},
)

func SetBuildInfo(version, commit, tokenizer string) {
	buildInfo.WithLabelValues(version, commit, tokenizer).Set(1)
}
