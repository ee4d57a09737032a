package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/zoobzio/apmz"
	"github.com/zoobzio/apmz/apmhttp"
	"github.com/zoobzio/apmz/capture"
	"github.com/zoobzio/apmz/lucee"
)

// spansPerTransaction is the number of records one simulated request yields,
// the transaction included.
const spansPerTransaction = 8

// inlineImage is a truncated PNG header used for the base64 image call.
const inlineImage = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

type options struct {
	workers      int
	transactions int
	poolCapacity int
	format       string
	metricsAddr  string
	linger       time.Duration
}

// report is what the simulator prints.
type report struct {
	Records        []apmz.Record  `json:"records,omitempty"`
	Pool           apmz.PoolStats `json:"pool"`
	Transactions   int            `json:"transactions"`
	Spans          int            `json:"spans"`
	ProtocolErrors uint64         `json:"protocol_errors"`
	Dropped        int64          `json:"dropped"`
}

func newRootCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "apmz-sim",
		Short: "Run a synthetic traced workload and print the collected spans.",
		Long: `apmz-sim starts a number of workers that each serve simulated ` +
			`requests. Every request opens a transaction and goes through lock, ` +
			`image, Java call and outgoing HTTP call-sites before ending.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	opts.addFlags(cmd.Flags())
	return cmd
}

// addFlags adds flags for the simulator to the specified FlagSet.
func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.workers, "workers", 4, "Number of concurrent workers.")
	fs.IntVar(&o.transactions, "transactions", 10, "Transactions per worker.")
	fs.IntVar(&o.poolCapacity, "pool-capacity", 256, "Idle spans kept for reuse.")
	fs.StringVarP(&o.format, "output", "o", "summary", "Output format: summary, json or yaml.")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090.")
	fs.DurationVar(&o.linger, "linger", 0, "Keep serving metrics this long after the run.")
}

func (o options) validate() error {
	if o.workers <= 0 {
		return errors.Newf("--workers must be > 0, got %d", o.workers)
	}
	if o.transactions <= 0 {
		return errors.Newf("--transactions must be > 0, got %d", o.transactions)
	}
	switch o.format {
	case "summary", "json", "yaml":
		return nil
	default:
		return errors.Newf("unknown output format %q", o.format)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reg := prometheus.NewRegistry()
	tracer := apmz.New(
		apmz.WithLogger(klog.NewKlogr().WithName("apmz")),
		apmz.WithRegisterer(reg),
		apmz.WithPoolCapacity(opts.poolCapacity),
	)
	defer tracer.Close()

	collector := apmz.NewCollector("sim", opts.workers*opts.transactions*spansPerTransaction)
	// Every record is printed, so none may be lost to backpressure.
	collector.SetSyncMode(true)
	defer collector.Close()
	tracer.OnSpanComplete(collector.Collect)

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			klog.V(0).Infof("Serving metrics on %s", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			if opts.linger > 0 {
				klog.V(0).Infof("Lingering for %v", opts.linger)
				time.Sleep(opts.linger)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	backend := httptest.NewServer(backendHandler())
	defer backend.Close()

	w := &worker{
		tracer: tracer,
		client: &http.Client{Transport: apmhttp.WrapTransport(tracer, nil)},
		base:   backend.URL,
	}
	if exe, err := os.Executable(); err == nil {
		w.image = capture.Path(exe)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.workers; i++ {
		id := i
		g.Go(func() error {
			for j := 0; j < opts.transactions; j++ {
				if err := w.serve(gctx, id, j); err != nil {
					return errors.Wrapf(err, "worker %d", id)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	klog.V(1).Infof("Simulated %d transactions in %v", opts.workers*opts.transactions, time.Since(start))

	rep := report{
		Records:        collector.Export(),
		Pool:           tracer.PoolStats(),
		ProtocolErrors: tracer.ProtocolErrors(),
		Dropped:        collector.DroppedCount(),
	}
	for _, r := range rep.Records {
		if r.Kind == "transaction" {
			rep.Transactions++
		} else {
			rep.Spans++
		}
	}
	return write(out, opts.format, rep)
}

func write(out io.Writer, format string, rep report) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding json")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case "yaml":
		data, err := yaml.Marshal(rep)
		if err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		_, err = out.Write(data)
		return err
	default:
		_, err := fmt.Fprintf(out,
			"transactions=%d spans=%d protocol_errors=%d dropped=%d pool: acquired=%d released=%d allocated=%d discarded=%d\n",
			rep.Transactions, rep.Spans, rep.ProtocolErrors, rep.Dropped,
			rep.Pool.Acquired, rep.Pool.Released, rep.Pool.Allocated, rep.Pool.Discarded)
		return err
	}
}

// backendHandler stands in for the services the simulated requests call.
func backendHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":3}`)
	})
	mux.HandleFunc("/pricing", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sku") == "0" {
			http.Error(w, "unknown sku", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"price":10}`)
	})
	return mux
}

type worker struct {
	tracer *apmz.Tracer
	client *http.Client
	base   string
	image  any
}

// serve simulates one request. Failing backend calls mark spans failed but
// do not fail the request.
func (w *worker) serve(ctx context.Context, workerID, n int) error {
	ctx = apmz.WithStack(ctx)
	tx := w.tracer.StartTransaction("GET /checkout", "request").Activate(ctx)
	defer func() { tx.Deactivate().End() }()

	tx.SetLabel("worker", strconv.Itoa(workerID))
	tx.Context().HTTP().
		WithMethod(http.MethodGet).
		InternalURL().
		WithProtocol("http").
		WithHostname("shop.local").
		WithPathname("/checkout").
		WithSearch("n=" + strconv.Itoa(n))

	err := apmz.Wrap(ctx, w.tracer, lucee.Lock{Name: "cart", Type: lucee.LockExclusive}, func(ctx context.Context) error {
		return w.get(ctx, "/inventory")
	})
	if err != nil {
		return err
	}

	_ = apmz.Wrap(ctx, w.tracer, lucee.Image{Source: w.image, Action: "resize"}, noop)
	_ = apmz.Wrap(ctx, w.tracer, lucee.Image{Source: inlineImage, Base64: true, Action: "info"}, noop)

	uuid, _ := apmz.WrapValue(ctx, w.tracer, lucee.JavaCall{Class: "java.util.UUID", Method: "randomUUID"},
		func(context.Context) (string, error) {
			return strconv.Itoa(workerID) + "-" + strconv.Itoa(n), nil
		})
	tx.SetLabel("order", uuid)

	// Pricing runs on another goroutine under an anonymous lock.
	forked, release := apmz.Fork(ctx)
	var wg sync.WaitGroup
	var asyncErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer release()
		asyncErr = apmz.Wrap(forked, w.tracer, lucee.Lock{ID: strconv.Itoa(n)}, func(ctx context.Context) error {
			return w.get(ctx, "/pricing?sku="+strconv.Itoa(n%5))
		})
	}()
	wg.Wait()
	if asyncErr != nil {
		return asyncErr
	}

	tx.WithResult("HTTP 2xx").Context().HTTP().WithStatusCode(http.StatusOK)
	return nil
}

func (w *worker) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", path)
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func noop(context.Context) error { return nil }
