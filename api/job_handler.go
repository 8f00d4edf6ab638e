package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/job"
)

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	Class      string            `json:"class"`
	Args       []json.RawMessage `json:"args"`
	Queue      string            `json:"queue"`
	MaxRetries *int              `json:"max_retries"`
	RunAt      *time.Time        `json:"run_at"`

	// Delay, CacheTTL and Timeout are Go duration strings such as "90s".
	Delay    string `json:"delay"`
	CacheTTL string `json:"cache_ttl"`
	Timeout  string `json:"timeout"`
}

func (r EnqueueRequest) options() ([]job.Option, error) {
	var opts []job.Option
	if r.Queue != "" {
		opts = append(opts, job.WithQueue(r.Queue))
	}
	if r.MaxRetries != nil {
		if *r.MaxRetries < 0 {
			return nil, tempo.Validationf("max_retries must be >= 0")
		}
		opts = append(opts, job.WithMaxRetries(*r.MaxRetries))
	}
	if r.RunAt != nil {
		opts = append(opts, job.WithRunAt(*r.RunAt))
	}
	for _, d := range []struct {
		name  string
		value string
		apply func(time.Duration) job.Option
	}{
		{"delay", r.Delay, job.WithDelay},
		{"cache_ttl", r.CacheTTL, job.WithCacheTTL},
		{"timeout", r.Timeout, job.WithTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil || v < 0 {
			return nil, tempo.Validationf("%s: invalid duration %q", d.name, d.value)
		}
		opts = append(opts, d.apply(v))
	}
	return opts, nil
}

// InvokeRequest is the body of POST /v1/invoke/:kind.
type InvokeRequest struct {
	Args     []json.RawMessage `json:"args"`
	CacheTTL string            `json:"cache_ttl"`
}

func (a *API) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts, err := req.options()
	if err != nil {
		a.writeError(c, err)
		return
	}

	j, err := a.eng.Enqueue(c.Request.Context(), req.Class, job.Args(req.Args), opts...)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

// invoke runs a handler in the API process. Any handler error is a 422
// carrying the error message verbatim.
func (a *API) invoke(c *gin.Context) {
	var req InvokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var opts []job.Option
	if req.CacheTTL != "" {
		ttl, err := time.ParseDuration(req.CacheTTL)
		if err != nil || ttl < 0 {
			a.writeError(c, tempo.Validationf("cache_ttl: invalid duration %q", req.CacheTTL))
			return
		}
		opts = append(opts, job.WithCacheTTL(ttl))
	}

	res, err := a.eng.Invoke(c.Request.Context(), c.Param("kind"), job.Args(req.Args), opts...)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": resultJSON(res)})
}

// resultJSON returns a handler result ready to embed in a response. A
// result that is not JSON is sent as a string.
func resultJSON(res job.Result) json.RawMessage {
	switch {
	case len(res) == 0:
		return json.RawMessage("null")
	case json.Valid(res):
		return json.RawMessage(res)
	}
	quoted, _ := json.Marshal(string(res))
	return quoted
}
