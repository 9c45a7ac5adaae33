package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// SweepMinInterval is the minimum spacing autoFinalize must impose
// between per-participant judge calls.
const SweepMinInterval = 1 * time.Second

// NewSweepLimiter returns a fresh rate.Limiter for a single
// finalization sweep, enforcing the ≥1s inter-participant pacing.
// GameService.autoFinalize calls Wait on it before each participant's
// ListRecentSubmissions.
func NewSweepLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(SweepMinInterval), 1)
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type userInfoResult struct {
	Handle     string `json:"handle"`
	Rating     int    `json:"rating"`
	Avatar     string `json:"avatar"`
	TitlePhoto string `json:"titlePhoto"`
}

type problemsResult struct {
	Problems []struct {
		ContestID int    `json:"contestId"`
		Index     string `json:"index"`
		Rating    *int   `json:"rating"`
	} `json:"problems"`
}

type submissionResult struct {
	Problem struct {
		ContestID int    `json:"contestId"`
		Index     string `json:"index"`
	} `json:"problem"`
	Verdict            string `json:"verdict"`
	CreationTimeSeconds int64 `json:"creationTimeSeconds"`
}

// Options configure the fasthttp-backed judge client; zero fields take
// the defaults set in fillDefaults.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	RetryMax    int
	MaxConns    int
}

func (o *Options) fillDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 20 * time.Second
	}
	if o.RetryMax == 0 {
		o.RetryMax = 3
	}
	if o.MaxConns == 0 {
		o.MaxConns = 64
	}
}

type FasthttpClient struct {
	baseURL  string
	http     *fasthttp.Client
	timeout  time.Duration
	retryMax int
}

var _ Client = (*FasthttpClient)(nil)

func NewFasthttpClient(o Options) *FasthttpClient {
	o.fillDefaults()
	return &FasthttpClient{
		baseURL:  strings.TrimRight(o.BaseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: o.Timeout, WriteTimeout: o.Timeout, MaxConnsPerHost: o.MaxConns},
		timeout:  o.Timeout,
		retryMax: o.RetryMax,
	}
}

func (c *FasthttpClient) ResolveUser(ctx context.Context, handle string) (ResolvedUser, error) {
	var env apiEnvelope
	if err := c.doJSON(ctx, "/user.info?handles="+handle, &env); err != nil {
		return ResolvedUser{}, err
	}
	if env.Status != "OK" {
		if strings.Contains(strings.ToLower(env.Comment), "not found") {
			return ResolvedUser{}, domain.ErrUnknownHandle
		}
		return ResolvedUser{}, fmt.Errorf("%w: %s", domain.ErrJudgeUnavailable, env.Comment)
	}
	var results []userInfoResult
	if err := json.Unmarshal(env.Result, &results); err != nil || len(results) == 0 {
		return ResolvedUser{}, domain.ErrUnknownHandle
	}
	r := results[0]
	avatar := r.Avatar
	if avatar == "" {
		avatar = r.TitlePhoto
	}
	return ResolvedUser{Handle: r.Handle, Rating: r.Rating, Avatar: avatar}, nil
}

func (c *FasthttpClient) ListAllProblems(ctx context.Context) ([]Problem, error) {
	var env apiEnvelope
	if err := c.doJSON(ctx, "/problemset.problems", &env); err != nil {
		return nil, err
	}
	if env.Status != "OK" {
		return nil, fmt.Errorf("%w: %s", domain.ErrJudgeUnavailable, env.Comment)
	}
	var res problemsResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("%w: decode problems: %v", domain.ErrJudgeUnavailable, err)
	}
	out := make([]Problem, 0, len(res.Problems))
	for _, p := range res.Problems {
		out = append(out, Problem{ContestID: p.ContestID, Index: p.Index, Rating: p.Rating})
	}
	return out, nil
}

func (c *FasthttpClient) ListRecentSubmissions(ctx context.Context, handle string, count int) ([]Submission, error) {
	path := "/user.status?handle=" + handle + "&count=" + strconv.Itoa(count)
	var env apiEnvelope
	if err := c.doJSON(ctx, path, &env); err != nil {
		return nil, err
	}
	if env.Status != "OK" {
		if strings.Contains(strings.ToLower(env.Comment), "not found") {
			return nil, domain.ErrUnknownHandle
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrJudgeUnavailable, env.Comment)
	}
	var subs []submissionResult
	if err := json.Unmarshal(env.Result, &subs); err != nil {
		return nil, fmt.Errorf("%w: decode submissions: %v", domain.ErrJudgeUnavailable, err)
	}
	out := make([]Submission, 0, len(subs))
	for _, s := range subs {
		v := VerdictOther
		if s.Verdict == "OK" {
			v = VerdictAccepted
		}
		out = append(out, Submission{
			ContestID:       s.Problem.ContestID,
			Index:           s.Problem.Index,
			Verdict:         v,
			CreationInstant: time.Unix(s.CreationTimeSeconds, 0).UTC(),
		})
	}
	return out, nil
}

func (c *FasthttpClient) doJSON(ctx context.Context, path string, out any) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		deadline := c.deadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			lastErr = err
			if attempt == c.retryMax {
				return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, sleepErr)
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("judge http status %d", status)
			if attempt == c.retryMax || !shouldRetryStatus(status) {
				return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, lastErr)
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, sleepErr)
			}
			continue
		}

		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: decode: %v", domain.ErrJudgeUnavailable, err)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown judge error")
	}
	return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, lastErr)
}

func (c *FasthttpClient) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.timeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.timeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := 200 * time.Millisecond
	d := time.Duration(1<<uint(attempt-1)) * base
	jitter := 1.0 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
