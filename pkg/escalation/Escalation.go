package escalation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirgallo/cmdcore/pkg/utils"
	"github.com/sirgallo/cmdcore/pkg/wireproto"
)

type escalateResult struct {
	code   int
	reason string
	body   string
}

// Escalate forwards methodLine/headers to primaryAddr's front door over
// HTTP, retrying with exponential backoff on transport errors (the primary
// being mid-election, or momentarily unreachable) but not on a well-formed
// wire response — even a 5xx from the primary's executor is a final answer,
// not a transport failure.
func (e *HTTPEscalator) Escalate(primaryAddr string, methodLine string, headers map[string]string) (int, string, string, error) {
	client, err := e.pool.GetConnection(primaryAddr)
	if err != nil {
		return 0, "", "", err
	}

	maxRetries := e.maxRetries
	strat := utils.NewExponentialBackoffStrat[*escalateResult](utils.ExpBackoffOpts{
		MaxRetries:            &maxRetries,
		TimeoutInMilliseconds: 100,
	})

	result, err := strat.PerformBackoff(func() (*escalateResult, error) {
		return e.doOnce(client, primaryAddr, methodLine, headers)
	})

	if err != nil {
		Log.Warn(fmt.Sprintf("escalation to %s exhausted retries: %s", primaryAddr, err.Error()))
		return 0, "", "", err
	}

	return result.code, result.reason, result.body, nil
}

func (e *HTTPEscalator) doOnce(client *http.Client, primaryAddr, methodLine string, headers map[string]string) (*escalateResult, error) {
	wire := wireproto.EncodeRequest(methodLine, headers)

	url := fmt.Sprintf("http://%s/command", primaryAddr)
	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// the primary closed the connection without writing a response
			// (its handler crashed): a final outcome, not retried.
			return &escalateResult{code: 555, reason: "HandlerCrash", body: ""}, nil
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	resp, err := wireproto.DecodeResponse(httpResp.Body)
	if err != nil {
		// a crashed handler on the primary closes the body with nothing
		// written — that is a valid outcome, not a transport failure, so
		// it is surfaced to the caller rather than retried.
		return &escalateResult{code: 555, reason: "HandlerCrash", body: ""}, nil
	}

	return &escalateResult{code: resp.Code, reason: resp.Reason, body: resp.Body}, nil
}
