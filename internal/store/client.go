package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"flash-agent/internal/models"
)

const (
	defaultTimeout   = 5 * time.Second
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// RequestError reports a failed call to the flashcard store. Status is zero
// when no HTTP response was received.
type RequestError struct {
	Op     string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Client talks to the external flashcard store.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("store base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "store")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "flashcard-store",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("store circuit breaker changed state")
		},
		IsSuccessful: func(err error) bool {
			var reqErr *RequestError
			// A missing card is an answer, not an outage.
			if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound {
				return true
			}
			return err == nil
		},
	})

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		breaker: breaker,
		log:     log,
	}, nil
}

// Create asks the store to persist a new flashcard and returns a
// confirmation message.
func (c *Client) Create(ctx context.Context, card models.NewFlashcard) (string, error) {
	var created models.Flashcard
	_, err := c.do("create", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(card).
			SetResult(&created).
			Post("/flashcards")
	})
	if err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{"id": created.ID, "title": card.Title}).Info("flashcard created")
	if created.ID != 0 {
		return fmt.Sprintf("Flashcard %q criado com sucesso (id %d).", card.Title, created.ID), nil
	}
	return fmt.Sprintf("Flashcard %q criado com sucesso.", card.Title), nil
}

// Fetch returns the flashcard with the given id.
func (c *Client) Fetch(ctx context.Context, id int64) (*models.Flashcard, error) {
	var card models.Flashcard
	_, err := c.do("fetch", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", strconv.FormatInt(id, 10)).
			SetResult(&card).
			Get("/flashcards/{id}")
	})
	if err != nil {
		return nil, err
	}
	if card.ID == 0 {
		card.ID = id
	}
	return &card, nil
}

// List returns every flashcard held by the store.
func (c *Client) List(ctx context.Context) ([]models.Flashcard, error) {
	var cards []models.Flashcard
	_, err := c.do("list", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&cards).
			Get("/flashcards")
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) do(op string, send func() (*resty.Response, error)) (*resty.Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := send()
		if err != nil {
			return nil, &RequestError{Op: op, Err: err}
		}
		if resp.IsError() {
			return nil, &RequestError{
				Op:     op,
				Status: resp.StatusCode(),
				Err:    fmt.Errorf("%s", statusText(resp)),
			}
		}
		return resp, nil
	})
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			// Breaker open or too many half-open requests.
			err = &RequestError{Op: op, Err: err}
		}
		c.log.WithError(err).WithField("op", op).Warn("store request failed")
		return nil, err
	}
	return out.(*resty.Response), nil
}

func statusText(resp *resty.Response) string {
	body := resp.String()
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return http.StatusText(resp.StatusCode())
	}
	return body
}
