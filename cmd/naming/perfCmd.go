package naming

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCR/cmd/util"
	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dCR naming servers",
		Long:    "Runs register/beat/query workloads against a live server and reports latency percentiles and throughput per operation.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads     = 10
	perfDurationSec    = 10
	perfServiceSpread  = 10
	perfInstanceSpread = 10
	perfSkip           = make([]string, 0)
	perfRunID          = ""
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. register,beat)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "duration"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How long each benchmark runs (in seconds)"))
	key = "services"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many different services to use for the tests"))
	key = "instances"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many instances per service to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfDurationSec = viper.GetInt("duration")
	perfServiceSpread = viper.GetInt("services")
	perfInstanceSpread = viper.GetInt("instances")
	if skip := viper.GetString("skip"); skip != "" {
		perfSkip = strings.Split(skip, ",")
	}

	// a fresh id per run keeps concurrent runs on the same server apart
	perfRunID = uuid.NewString()[:8]

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dCR naming servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Duration: %ds per benchmark\n", perfDurationSec)
	fmt.Printf("Key spread: %d services x %d instances\n", perfServiceSpread, perfInstanceSpread)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := gometrics.NewRegistry()

	runBench(registry, "register", nil, func(i int) error {
		_, err := rpcNaming.Register(perfService(i), perfInstance(i), []byte(`{"weight":1}`), 60)
		return err
	})

	runBench(registry, "beat", seedInstances, func(i int) error {
		_, err := rpcNaming.Beat(perfService(i), perfInstance(i))
		return err
	})

	runBench(registry, "query", seedInstances, func(i int) error {
		_, err := rpcNaming.Query(perfService(i), 0)
		return err
	})

	runBench(registry, "services", seedInstances, func(i int) error {
		_, err := rpcNaming.Services("__perf-"+perfRunID, 0)
		return err
	})

	runBench(registry, "mixed", seedInstances, func(i int) error {
		switch i % 4 {
		case 0:
			_, err := rpcNaming.Register(perfService(i), perfInstance(i), nil, 60)
			return err
		case 1:
			_, err := rpcNaming.Beat(perfService(i), perfInstance(i))
			return err
		case 2:
			_, err := rpcNaming.Query(perfService(i), 0)
			return err
		default:
			_, err := rpcNaming.Deregister(perfService(i), perfInstance(i))
			return err
		}
	})

	// leave no test instances behind
	cleanupInstances()

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, registry); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// perfService maps a counter to one of the test service names
func perfService(i int) string {
	return fmt.Sprintf("__perf-%s-svc-%d", perfRunID, i%perfServiceSpread)
}

// perfInstance maps a counter to one of the test instance addresses
func perfInstance(i int) string {
	return fmt.Sprintf("10.0.0.%d:%d", (i/perfServiceSpread)%perfInstanceSpread+1, 9000+i%perfServiceSpread)
}

// forEachCombo applies fn to every service/instance pair of the test key space
func forEachCombo(fn func(service, instance string)) {
	for s := 0; s < perfServiceSpread; s++ {
		for n := 0; n < perfInstanceSpread; n++ {
			fn(perfService(s), perfInstance(s+n*perfServiceSpread))
		}
	}
}

// seedInstances registers the complete test key space
func seedInstances() {
	forEachCombo(func(service, instance string) {
		if _, err := rpcNaming.Register(service, instance, nil, 60); err != nil {
			fmt.Printf("(seed) - error registering instance: %v\n", err)
		}
	})
}

// cleanupInstances deregisters the complete test key space
func cleanupInstances() {
	forEachCombo(func(service, instance string) {
		if _, err := rpcNaming.Deregister(service, instance); err != nil {
			fmt.Printf("(cleanup) - error deregistering instance: %v\n", err)
		}
	})
}

// runBench drives op from perfNumThreads goroutines for the configured
// duration, recording every call in a timer of the registry.
func runBench(registry gometrics.Registry, name string, setup func(), op func(i int) error) {
	if shouldSkip(name) {
		fmt.Printf("%-12s skipped\n", name)
		return
	}

	if setup != nil {
		setup()
	}

	timer := gometrics.GetOrRegisterTimer(name, registry)
	errors := gometrics.GetOrRegisterCounter(name+".errors", registry)

	var counter atomic.Int64
	deadline := time.Now().Add(time.Duration(perfDurationSec) * time.Second)

	var wg sync.WaitGroup
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				i := int(counter.Add(1))
				start := time.Now()
				err := op(i)
				timer.UpdateSince(start)
				if err != nil {
					errors.Inc(1)
				}
			}
		}()
	}
	wg.Wait()

	printResult(name, timer, errors.Count())
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(name string, timer gometrics.Timer, errors int64) {
	snap := timer.Snapshot()
	if snap.Count() == 0 {
		fmt.Printf("%-12s no samples\n", name)
		return
	}

	ps := snap.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-12s %7d ops\t%8.0f ops/sec\tp50=%-10s p95=%-10s p99=%-10s errors=%d\n",
		name,
		snap.Count(),
		snap.RateMean(),
		time.Duration(int64(ps[0])),
		time.Duration(int64(ps[1])),
		time.Duration(int64(ps[2])),
		errors,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, registry gometrics.Registry) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	config := util.GetClientConfig()
	header := []string{
		"Test", "Ops", "Errors", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "DurationSec", "Services", "Instances",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	var writeErr error
	registry.Each(func(name string, metric interface{}) {
		timer, ok := metric.(gometrics.Timer)
		if !ok || writeErr != nil {
			return
		}
		snap := timer.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.95, 0.99})
		errors := gometrics.GetOrRegisterCounter(name+".errors", registry).Count()

		row := []string{
			name,
			strconv.FormatInt(snap.Count(), 10),
			strconv.FormatInt(errors, 10),
			fmt.Sprintf("%.0f", snap.RateMean()),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			config.Serializer,
			config.TransportType,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfDurationSec),
			strconv.Itoa(perfServiceSpread),
			strconv.Itoa(perfInstanceSpread),
		}

		if err := writer.Write(row); err != nil {
			writeErr = fmt.Errorf("failed to write row for test %s: %v", name, err)
		}
	})

	return writeErr
}
