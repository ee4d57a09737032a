// Command apmz-sim drives the span lifecycle engine with a synthetic
// workload and prints what the reporting pipeline received.
package main

import (
	goflag "flag"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	cmd := newRootCommand()
	cmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	if err := cmd.Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}
