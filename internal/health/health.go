package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status - состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check - результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response - тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент. Реализация обязана уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler собирает проверки и отдаёт /healthz, /readyz и /livez.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewHandler создаёт health handler.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// RegisterChecker регистрирует проверку компонента.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки параллельно с общим таймаутом.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = checkers[name].Check(ctx)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(names))
	for i, name := range names {
		check := results[i]
		checks[name] = check
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный отчёт о проверках.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, checks := h.Run(r.Context())

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// LivenessHandler - liveness probe, всегда 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler возвращает 503, пока хотя бы одна проверка неуспешна.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if status, _ := h.Run(r.Context()); status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// FuncChecker превращает функцию в Checker.
type FuncChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

// NewFuncChecker создаёт проверку из функции.
func NewFuncChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, checkFn: checkFn}
}

// Pinger - всё, что умеет проверить соединение (хранилища, клиенты брокеров).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет хранилище через Ping.
func NewPingChecker(name string, p Pinger) *FuncChecker {
	return NewFuncChecker(name, p.Ping)
}

// Check выполняет проверку.
func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
