package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arzzra/live_publish/pkg/control"
)

// apiClient клиент HTTP API работающего publishd
type apiClient struct {
	base   string
	client *resty.Client
}

func newAPIClient(baseURL string) *apiClient {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetHeader("Accept", "application/json")
	return &apiClient{
		base:   strings.TrimSuffix(baseURL, "/") + "/api/v1",
		client: client,
	}
}

func (c *apiClient) branches(ctx context.Context) (*control.BranchesResponse, error) {
	var out control.BranchesResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get(c.base + "/branches")
	if err := checkResponse(res, err); err != nil {
		return nil, err
	}
	if len(res.Body()) == 0 {
		return nil, fmt.Errorf("control api: GET %s: пустой ответ", res.Request.URL)
	}
	return &out, nil
}

func (c *apiClient) startRecord(ctx context.Context, location string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(control.RecordRequest{Location: location}).
		Post(c.base + "/record")
	return checkResponse(res, err)
}

func (c *apiClient) stopRecord(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Delete(c.base + "/record")
	return checkResponse(res, err)
}

func (c *apiClient) startStream(ctx context.Context, t streamTarget) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(control.StreamRequest{Host: t.host, AudioPort: t.audioPort, VideoPort: t.videoPort}).
		Post(c.base + "/stream")
	return checkResponse(res, err)
}

func (c *apiClient) stopStream(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Delete(c.base + "/stream")
	return checkResponse(res, err)
}

func (c *apiClient) sessionDescription(ctx context.Context) (string, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/sdp").
		Get(c.base + "/stream/sdp")
	if err := checkResponse(res, err); err != nil {
		return "", err
	}
	// String() обрезает завершающий CRLF, обязательный для SDP
	return string(res.Body()), nil
}

func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("control api: %w", err)
	}
	if res.IsError() {
		msg := strings.TrimSpace(res.String())
		return fmt.Errorf("control api: %s %s: %s: %s",
			res.Request.Method, res.Request.URL, res.Status(), msg)
	}
	return nil
}
