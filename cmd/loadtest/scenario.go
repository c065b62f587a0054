package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type idResponse struct {
	ID string `json:"id"`
}

// client вызывает HTTP API маркетплейса и пишет каждый шаг в collector.
type client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

func newClient(cfg config, col *collector) *client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	return &client{
		base:    strings.TrimRight(cfg.baseURL, "/"),
		http:    &http.Client{Transport: transport},
		timeout: cfg.timeout,
		col:     col,
	}
}

// call выполняет запрос; шаг считается успешным, если статус входит в expected.
func (c *client) call(step, method, path, key string, body any, out any, expected ...int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(step, time.Since(start), 0, false)
		return 0, fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	ok := readErr == nil && statusIn(resp.StatusCode, expected)
	c.col.record(step, time.Since(start), resp.StatusCode, ok)
	if readErr != nil {
		return resp.StatusCode, fmt.Errorf("%s: read body: %w", step, readErr)
	}
	if !ok {
		return resp.StatusCode, fmt.Errorf("%s: unexpected status %d: %s", step, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode: %w", step, err)
		}
	}
	return resp.StatusCode, nil
}

func statusIn(status int, expected []int) bool {
	for _, e := range expected {
		if status == e {
			return true
		}
	}
	return false
}

// runScenario выполняет один сценарий и возвращает ошибку первого неудачного шага.
func runScenario(c *client, cfg config, runID string, index int) (err error) {
	start := time.Now()
	defer func() {
		c.col.record(stepScenario, time.Since(start), 0, err == nil)
	}()

	listingID, err := c.activeListing(cfg, runID, index)
	if err != nil {
		return err
	}

	if cfg.mode == modeRace {
		return c.race(cfg, runID, index, listingID)
	}

	orderID, _, err := c.order(runID, index, 0, listingID)
	if err != nil {
		return err
	}
	if cfg.mode == modePurchase {
		return nil
	}
	return c.fulfil(runID, index, orderID)
}

func (c *client) activeListing(cfg config, runID string, index int) (string, error) {
	var created idResponse
	body := map[string]any{
		"catalog_id": cfg.catalogID,
		"seller_id":  fmt.Sprintf("%s-seller-%s-%d", cfg.tag, runID, index),
		"price":      cfg.price,
		"images":     []string{"front.jpg", "back.jpg"},
		"condition_grading": map[string]any{
			"is_graded": true,
			"service":   "PSA",
			"score":     9.5,
		},
	}
	key := fmt.Sprintf("lt-listing-%s-%d", runID, index)
	if _, err := c.call("listing", http.MethodPost, "/market/listings", key, body, &created, http.StatusCreated); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("listing: empty id in response")
	}
	if _, err := c.call("publish", http.MethodPost, "/market/listings/"+created.ID+"/publish", "", nil, nil, http.StatusOK); err != nil {
		return "", err
	}
	return created.ID, nil
}

// order покупает объявление; в race-режиме 409 ожидаем и означает проигрыш гонки.
func (c *client) order(runID string, index, buyer int, listingID string, expected ...int) (string, int, error) {
	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	var created idResponse
	body := map[string]any{
		"listing_id":        listingID,
		"buyer_id":          fmt.Sprintf("buyer-%s-%d-%d", runID, index, buyer),
		"payment_method_id": "pm_load",
	}
	key := fmt.Sprintf("lt-order-%s-%d-%d", runID, index, buyer)
	status, err := c.call("order", http.MethodPost, "/market/orders", key, body, &created, expected...)
	return created.ID, status, err
}

func (c *client) fulfil(runID string, index int, orderID string) error {
	base := "/market/orders/" + orderID
	if _, err := c.call("capture", http.MethodPost, base+"/capture", "", nil, nil, http.StatusOK); err != nil {
		return err
	}
	tracking := map[string]string{"tracking_number": fmt.Sprintf("TRK-%s-%d", runID, index)}
	if _, err := c.call("ship", http.MethodPost, base+"/ship", "", tracking, nil, http.StatusOK); err != nil {
		return err
	}
	if _, err := c.call("deliver", http.MethodPost, base+"/deliver", "", nil, nil, http.StatusOK); err != nil {
		return err
	}
	_, err := c.call("complete", http.MethodPost, base+"/complete", "", nil, nil, http.StatusOK)
	return err
}

// race отправляет несколько покупок одного объявления одновременно.
// Успешной может быть ровно одна.
func (c *client) race(cfg config, runID string, index int, listingID string) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for buyer := 0; buyer < cfg.buyers; buyer++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()
			_, status, err := c.order(runID, index, buyer, listingID, http.StatusOK, http.StatusConflict)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if status == http.StatusOK {
				winners++
			}
		}(buyer)
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if winners != 1 {
		return fmt.Errorf("race on listing %s: expected exactly one winner, got %d", listingID, winners)
	}
	return nil
}
