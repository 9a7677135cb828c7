package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/availability"
	"github.com/hackgods/clinic-reminders/internal/lock"
	"github.com/hackgods/clinic-reminders/internal/logger"
	redisclient "github.com/hackgods/clinic-reminders/internal/redis"
)

// contention hammers a scratch availability workbook with concurrent bookings
// and checks that no slot was handed out twice.

type runConfig struct {
	Workers     int
	Attempts    int
	Slots       int
	Doctor      string
	LockBackend string
	RedisAddr   string
	LockTimeout time.Duration
	Dir         string
}

type outcomes struct {
	Total     int64
	Confirmed int64
	Conflict  int64
	NotFound  int64
	Timeout   int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (o *outcomes) record(latency time.Duration, err error) {
	atomic.AddInt64(&o.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&o.Confirmed, 1)
	case errors.Is(err, availability.ErrSlotConflict):
		atomic.AddInt64(&o.Conflict, 1)
	case errors.Is(err, availability.ErrSlotNotFound):
		atomic.AddInt64(&o.NotFound, 1)
	case errors.Is(err, lock.ErrTimeout):
		atomic.AddInt64(&o.Timeout, 1)
	default:
		atomic.AddInt64(&o.Error, 1)
	}

	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

func (o *outcomes) percentiles() (p50, p95, p99, maxLatency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.latencies) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]time.Duration, len(o.latencies))
	copy(sorted, o.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) time.Duration {
		return sorted[int(float64(len(sorted)-1)*q)]
	}
	return at(0.50), at(0.95), at(0.99), sorted[len(sorted)-1]
}

func main() {
	_ = godotenv.Load()
	log := logger.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "contention-*")
		if err != nil {
			log.WithError(err).Fatal("create scratch dir")
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	path := filepath.Join(dir, "schedules.xlsx")

	day := time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour)
	starts, err := seedWorkbook(path, cfg.Doctor, day, cfg.Slots)
	if err != nil {
		log.WithError(err).Fatal("seed workbook")
	}

	ctx := context.Background()
	locker, closeLocker, err := newLocker(ctx, cfg, path)
	if err != nil {
		log.WithError(err).Fatal("build locker")
	}
	defer closeLocker()

	engine := availability.NewEngine(availability.NewStore(path, time.UTC), locker, logger.Discard())

	log.WithFields(logrus.Fields{
		"workers":  cfg.Workers,
		"attempts": cfg.Attempts,
		"slots":    cfg.Slots,
		"lock":     cfg.LockBackend,
		"file":     path,
	}).Info("starting contention run")

	var res outcomes
	begin := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < cfg.Attempts; i++ {
				start := time.Now()
				_, err := engine.Book(ctx, availability.BookRequest{
					Doctor:          cfg.Doctor,
					Start:           starts[rng.Intn(len(starts))],
					DurationMinutes: 30,
					PatientRef:      gofakeit.UUID(),
				})
				res.record(time.Since(start), err)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
	elapsed := time.Since(begin)

	booked, err := countBooked(path)
	if err != nil {
		log.WithError(err).Fatal("read back workbook")
	}

	printReport(cfg, &res, elapsed, booked)

	if int(res.Confirmed) != booked || booked > cfg.Slots {
		log.WithFields(logrus.Fields{
			"confirmed": res.Confirmed,
			"booked":    booked,
		}).Fatal("double booking detected")
	}
}

func seedWorkbook(path, doctor string, day time.Time, n int) ([]time.Time, error) {
	slots := make([]availability.Slot, 0, n)
	starts := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		start := day.Add(8*time.Hour + time.Duration(i)*time.Hour)
		slots = append(slots, availability.Slot{
			Doctor:          doctor,
			Start:           start,
			Location:        gofakeit.City() + " Clinic",
			Available:       true,
			CapacityMinutes: 60,
		})
		starts = append(starts, start)
	}
	return starts, availability.WriteTable(path, slots, time.UTC)
}

func countBooked(path string) (int, error) {
	slots, err := availability.ReadTable(path, time.UTC)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range slots {
		if !s.Available {
			n++
		}
	}
	return n, nil
}

func newLocker(ctx context.Context, cfg runConfig, path string) (lock.Locker, func(), error) {
	if cfg.LockBackend != "redis" {
		return lock.NewFileLocker(path, cfg.LockTimeout, 5*time.Millisecond), func() {}, nil
	}
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, "", "")
	if err != nil {
		return nil, nil, err
	}
	locker := redisclient.NewAvailabilityLocker(rdb, "contention-"+strconv.FormatInt(time.Now().UnixNano(), 36),
		10*time.Second, cfg.LockTimeout, 5*time.Millisecond)
	return locker, func() { _ = rdb.Close() }, nil
}

func loadConfig() runConfig {
	return runConfig{
		Workers:     getInt("CONTENTION_WORKERS", 20),
		Attempts:    getInt("CONTENTION_ATTEMPTS", 10),
		Slots:       getInt("CONTENTION_SLOTS", 5),
		Doctor:      getEnv("CONTENTION_DOCTOR", "Dr. Contention"),
		LockBackend: getEnv("CONTENTION_LOCK", "file"),
		RedisAddr:   getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		LockTimeout: getDuration("CONTENTION_LOCK_TIMEOUT", 10*time.Second),
		Dir:         os.Getenv("CONTENTION_DIR"),
	}
}

func validateConfig(cfg runConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("CONTENTION_WORKERS must be > 0")
	}
	if cfg.Attempts <= 0 {
		return fmt.Errorf("CONTENTION_ATTEMPTS must be > 0")
	}
	if cfg.Slots <= 0 || cfg.Slots > 16 {
		return fmt.Errorf("CONTENTION_SLOTS must be between 1 and 16")
	}
	switch cfg.LockBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("CONTENTION_LOCK must be file or redis, got %q", cfg.LockBackend)
	}
	return nil
}

func printReport(cfg runConfig, o *outcomes, elapsed time.Duration, booked int) {
	total := atomic.LoadInt64(&o.Total)
	p50, p95, p99, maxLatency := o.percentiles()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Workers: %d  Attempts/worker: %d  Slots: %d  Lock: %s\n",
		cfg.Workers, cfg.Attempts, cfg.Slots, cfg.LockBackend)
	fmt.Printf("Elapsed: %s  Throughput: %.1f ops/s\n",
		elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Println()
	fmt.Printf("  Total:        %d\n", total)
	fmt.Printf("  Confirmed:    %d\n", o.Confirmed)
	fmt.Printf("  Conflicts:    %d\n", o.Conflict)
	if o.NotFound > 0 {
		fmt.Printf("  Not found:    %d\n", o.NotFound)
	}
	if o.Timeout > 0 {
		fmt.Printf("  Lock timeout: %d\n", o.Timeout)
	}
	if o.Error > 0 {
		fmt.Printf("  Errors:       %d\n", o.Error)
	}
	fmt.Printf("  Booked rows:  %d\n", booked)
	fmt.Printf("  Latency: p50=%s p95=%s p99=%s max=%s\n",
		p50.Round(time.Microsecond), p95.Round(time.Microsecond),
		p99.Round(time.Microsecond), maxLatency.Round(time.Microsecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
