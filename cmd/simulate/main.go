package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/api"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/app"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/cli"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Caregivers   int
	Days         int
	Vaccines     int
	Doses        int
	ReserveRatio float64
	CancelRatio  float64
	ReadRatio    float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRejected
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Reserve OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

// client speaks the session line protocol over HTTP.
type client struct {
	base string
	http *http.Client
}

func (c *client) open(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/sessions", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("open session: status %d", resp.StatusCode)
	}
	var body api.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.ID, nil
}

func (c *client) run(ctx context.Context, session, line string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/sessions/"+session+"/commands", strings.NewReader(line))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%q: status %d", line, resp.StatusCode)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// expect runs line and fails unless the output is exactly want.
func (c *client) expect(ctx context.Context, session, line, want string) error {
	got, err := c.run(ctx, session, line)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%q: got %q, want %q", line, got, want)
	}
	return nil
}

func (c *client) close(session string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/sessions/"+session, nil)
	if err != nil {
		return
	}
	if resp, err := c.http.Do(req); err == nil {
		resp.Body.Close()
	}
}

type Simulator struct {
	config   SimConfig
	client   *client
	log      *slog.Logger
	runID    string
	dates    []string
	vaccines []string
	initial  map[string]int
	metrics  Metrics

	mu          sync.Mutex
	outstanding map[string]int // vaccine -> appointments still booked
}

func main() {
	base, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("err", err))
		os.Exit(1)
	}
	log := app.NewLogger("simulate", base.LogLevel)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("simulator starting",
		slog.Duration("duration", cfg.Duration),
		slog.Int("workers", cfg.Workers),
		slog.Float64("reserve", cfg.ReserveRatio),
		slog.Float64("cancel", cfg.CancelRatio),
		slog.Float64("read", cfg.ReadRatio))

	ctx := context.Background()

	// Without an external server, host one over the configured backend. The
	// same App then serves the final audit.
	var auditor *app.App
	if cfg.APIBaseURL == "" || base.StoreBackend != config.BackendMemory {
		auditor, err = app.New(ctx, base, log)
		if err != nil {
			log.Error("startup failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer auditor.Close()
	}
	if cfg.APIBaseURL == "" {
		url, stop, err := serve(auditor, log)
		if err != nil {
			log.Error("serve", slog.Any("err", err))
			os.Exit(1)
		}
		defer stop()
		cfg.APIBaseURL = url
	}

	sim := newSimulator(cfg, log)
	if err := sim.Setup(ctx); err != nil {
		log.Error("setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := sim.Run(ctx); err != nil {
		log.Error("simulation failed", slog.Any("err", err))
		os.Exit(1)
	}

	sim.PrintReport()

	ok, err := sim.CheckDoses(ctx)
	if err != nil {
		log.Error("dose check failed", slog.Any("err", err))
		os.Exit(1)
	}
	if auditor != nil {
		ok = audit(ctx, auditor.Coordinator) && ok
	} else {
		fmt.Println("Audit: skipped, the remote server's memory store is not reachable from here")
	}
	if !ok {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "")
	v.SetDefault("SIM_DURATION", 30*time.Second)
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_CAREGIVERS", 5)
	v.SetDefault("SIM_DAYS", 7)
	v.SetDefault("SIM_VACCINES", 2)
	v.SetDefault("SIM_DOSES", 20)
	v.SetDefault("SIM_RESERVE_RATIO", 0.5)
	v.SetDefault("SIM_CANCEL_RATIO", 0.2)
	v.SetDefault("SIM_READ_RATIO", 0.3)

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:     v.GetDuration("SIM_DURATION"),
		Workers:      v.GetInt("SIM_WORKERS"),
		Caregivers:   v.GetInt("SIM_CAREGIVERS"),
		Days:         v.GetInt("SIM_DAYS"),
		Vaccines:     v.GetInt("SIM_VACCINES"),
		Doses:        v.GetInt("SIM_DOSES"),
		ReserveRatio: v.GetFloat64("SIM_RESERVE_RATIO"),
		CancelRatio:  v.GetFloat64("SIM_CANCEL_RATIO"),
		ReadRatio:    v.GetFloat64("SIM_READ_RATIO"),
	}

	// Normalize ratios
	total := cfg.ReserveRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ReserveRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	switch {
	case cfg.Workers <= 0:
		return errors.New("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return errors.New("SIM_DURATION must be > 0")
	case cfg.Caregivers <= 0 || cfg.Days <= 0 || cfg.Vaccines <= 0:
		return errors.New("SIM_CAREGIVERS, SIM_DAYS and SIM_VACCINES must be > 0")
	case cfg.Doses < 0:
		return errors.New("SIM_DOSES must be >= 0")
	}
	return nil
}

// serve exposes a's line protocol on a loopback port.
func serve(a *app.App, log *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{
		Handler: api.NewRouter(api.RouterConfig{
			Commands: cli.NewHandler(a.Coordinator, a.Identity, log),
			Log:      slog.New(slog.DiscardHandler),
			Env:      a.Config.Env,
			Version:  "simulate",
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("in-process server stopped", slog.Any("err", err))
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String(), stop, nil
}

func newSimulator(cfg SimConfig, log *slog.Logger) *Simulator {
	// Run-scoped names keep repeated runs against a persistent store apart.
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	faker := gofakeit.New(0)

	s := &Simulator{
		config: cfg,
		client: &client{
			base: cfg.APIBaseURL,
			http: &http.Client{Timeout: 10 * time.Second},
		},
		log:         log,
		runID:       runID,
		initial:     make(map[string]int),
		outstanding: make(map[string]int),
	}

	// Dates sit far enough ahead that they cannot collide with seeded data.
	start := reservation.DateOf(time.Now()).AddDays(365 + rand.IntN(365))
	for d := range cfg.Days {
		s.dates = append(s.dates, start.AddDays(d).String())
	}
	for i := range cfg.Vaccines {
		s.vaccines = append(s.vaccines, fmt.Sprintf("%s-%s-%d", faker.Word(), runID, i))
	}
	return s
}

// Setup registers the caregivers, opens their slots on every simulated
// date and stocks every vaccine.
func (s *Simulator) Setup(ctx context.Context) error {
	for i := range s.config.Caregivers {
		sess, err := s.client.open(ctx)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("simcg%s%02d", s.runID, i)
		steps := [][2]string{
			{"create_caregiver " + name + " pw", "Created user " + name},
			{"login_caregiver " + name + " pw", "Logged in as: " + name},
		}
		for _, d := range s.dates {
			steps = append(steps, [2]string{"upload_availability " + d, "Availability uploaded!"})
		}
		if i == 0 && s.config.Doses > 0 {
			for _, v := range s.vaccines {
				steps = append(steps, [2]string{fmt.Sprintf("add_doses %s %d", v, s.config.Doses), "Doses updated!"})
				s.initial[v] = s.config.Doses
			}
		}
		for _, st := range steps {
			if err := s.client.expect(ctx, sess, st[0], st[1]); err != nil {
				s.client.close(sess)
				return fmt.Errorf("caregiver %s: %w", name, err)
			}
		}
		s.client.close(sess)
	}

	s.log.Info("setup complete",
		slog.Int("caregivers", s.config.Caregivers),
		slog.Int("slots", s.config.Caregivers*len(s.dates)),
		slog.Any("vaccines", s.vaccines))
	return nil
}

func (s *Simulator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation",
		slog.Duration("duration", s.config.Duration),
		slog.Int("workers", s.config.Workers))

	g, gctx := errgroup.WithContext(runCtx)
	for i := range s.config.Workers {
		g.Go(func() error {
			return s.worker(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info("simulation complete")
	return nil
}

type booking struct {
	id      int64
	vaccine string
}

// worker logs in as its own patient and loops until ctx is done. Requests
// use their own timeout so the deadline never cuts one short.
func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	sess, err := s.client.open(ctx)
	if err != nil {
		return err
	}
	defer s.client.close(sess)

	name := fmt.Sprintf("simpt%s%03d", s.runID, workerID)
	if err := s.client.expect(ctx, sess, "create_patient "+name+" pw", "Created user "+name); err != nil {
		return err
	}
	if err := s.client.expect(ctx, sess, "login_patient "+name+" pw", "Logged in as: "+name); err != nil {
		return err
	}

	var mine []booking
	for ctx.Err() == nil {
		opCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		r := rng.Float64()
		switch {
		case r < s.config.ReserveRatio:
			if b, ok := s.doReserve(opCtx, rng, sess); ok {
				mine = append(mine, b)
			}
		case r < s.config.ReserveRatio+s.config.CancelRatio:
			if len(mine) > 0 {
				i := rng.IntN(len(mine))
				if s.doCancel(opCtx, sess, mine[i]) {
					mine = slices.Delete(mine, i, i+1)
				}
			}
		default:
			s.doRead(opCtx, rng, sess)
		}

		cancel()
	}

	s.mu.Lock()
	for _, b := range mine {
		s.outstanding[b.vaccine]++
	}
	s.mu.Unlock()
	return nil
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand, sess string) (booking, bool) {
	date := s.dates[rng.IntN(len(s.dates))]
	vaccine := s.vaccines[rng.IntN(len(s.vaccines))]

	start := time.Now()
	out, err := s.client.run(ctx, sess, "reserve "+date+" "+vaccine)
	latency := time.Since(start)

	var (
		id        int64
		caregiver string
	)
	switch {
	case err != nil:
		s.metrics.Reserve.Record(latency, outcomeError)
	case out == "No Caregiver is available" || out == "Not enough available doses!":
		s.metrics.Reserve.Record(latency, outcomeRejected)
	default:
		if _, err := fmt.Sscanf(out, "Appointment ID: %d, Caregiver Username: %s", &id, &caregiver); err != nil {
			s.log.Warn("unexpected reserve output", slog.String("out", out))
			s.metrics.Reserve.Record(latency, outcomeError)
			return booking{}, false
		}
		s.metrics.Reserve.Record(latency, outcomeSuccess)
		return booking{id: id, vaccine: vaccine}, true
	}
	return booking{}, false
}

func (s *Simulator) doCancel(ctx context.Context, sess string, b booking) bool {
	start := time.Now()
	out, err := s.client.run(ctx, sess, fmt.Sprintf("cancel %d", b.id))
	latency := time.Since(start)

	if err == nil && out == "Appointment Canceled" {
		s.metrics.Cancel.Record(latency, outcomeSuccess)
		return true
	}
	// Our own live appointment should always cancel.
	s.log.Warn("cancel failed", slog.Int64("appointment_id", b.id), slog.String("out", out), slog.Any("err", err))
	s.metrics.Cancel.Record(latency, outcomeError)
	return false
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand, sess string) {
	line := "show_appointments"
	if rng.IntN(2) == 0 {
		line = "search_caregiver_schedule " + s.dates[rng.IntN(len(s.dates))]
	}

	start := time.Now()
	out, err := s.client.run(ctx, sess, line)
	latency := time.Since(start)

	if err != nil || strings.HasPrefix(out, "Please") {
		s.metrics.Read.Record(latency, outcomeError)
		return
	}
	s.metrics.Read.Record(latency, outcomeSuccess)
}

// CheckDoses compares each simulated vaccine's remaining doses with its
// initial stock minus the appointments still booked.
func (s *Simulator) CheckDoses(ctx context.Context) (bool, error) {
	sess, err := s.client.open(ctx)
	if err != nil {
		return false, err
	}
	defer s.client.close(sess)

	name := fmt.Sprintf("simpt%sreport", s.runID)
	if err := s.client.expect(ctx, sess, "create_patient "+name+" pw", "Created user "+name); err != nil {
		return false, err
	}
	if err := s.client.expect(ctx, sess, "login_patient "+name+" pw", "Logged in as: "+name); err != nil {
		return false, err
	}
	out, err := s.client.run(ctx, sess, "search_caregiver_schedule "+s.dates[0])
	if err != nil {
		return false, err
	}

	got := make(map[string]int)
	for _, line := range strings.Split(out, "\n") {
		var (
			vaccine string
			doses   int
		)
		if _, err := fmt.Sscanf(line, "Vaccine: %s Available Doses: %d", &vaccine, &doses); err == nil {
			got[vaccine] = doses
		}
	}

	ok := true
	fmt.Println("Doses:")
	for _, v := range s.vaccines {
		want := s.initial[v] - s.outstanding[v]
		status := "ok"
		if got[v] != want {
			status = "MISMATCH"
			ok = false
		}
		fmt.Printf("  %s: remaining=%d expected=%d booked=%d %s\n", v, got[v], want, s.outstanding[v], status)
	}
	fmt.Println()
	return ok, nil
}

func audit(ctx context.Context, coord *reservation.Coordinator) bool {
	report, err := coord.Audit(ctx)
	if err != nil {
		fmt.Printf("Audit: error: %v\n", err)
		return false
	}
	fmt.Printf("Audit: appointments=%d vaccines=%d violations=%d\n",
		report.Appointments, report.Vaccines, len(report.Violations))
	for _, v := range report.Violations {
		fmt.Printf("  %s: %s\n", v.Kind, v.Detail)
	}
	return report.OK()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots: %d caregivers x %d days\n", s.config.Caregivers, len(s.dates))
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Microsecond), lo.Round(time.Microsecond), hi.Round(time.Microsecond),
		p50.Round(time.Microsecond), p95.Round(time.Microsecond))
	fmt.Println()
}
