// Package console serves a small JSON status surface next to the grpc
// endpoint: crawl and queue listings, aggregate stats, and a convenience
// endpoint for adding links without a grpc client.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/unrolled/render"

	frontier "github.com/michaeldinzinger/url-frontier"
)

//
// IMPLEMENTATION NOTE: Few notes about the approach to REST used here:
//  1. Always exchange JSON
//  2. Any successful request returns HTTP status code 200
//  3. Any error is flagged by HTTP status != 200, with a json encoded error
//     message in the body
//

// Render is the renderer all controllers share.
var Render = render.New()

type errorResponse struct {
	Version int    `json:"version"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func buildError(tag string, format string, args ...interface{}) *errorResponse {
	return &errorResponse{
		Version: 1,
		Tag:     tag,
		Message: fmt.Sprintf(format, args...),
	}
}

// Console holds the engine the controllers read from and write to.
type Console struct {
	engine *frontier.Engine
}

// New creates a console around an engine.
func New(e *frontier.Engine) *Console {
	return &Console{engine: e}
}

// Handler builds the console's route table.
func (c *Console) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", c.Stats).Methods("GET")
	router.HandleFunc("/healthz", c.Health).Methods("GET")
	router.HandleFunc("/crawls", c.Crawls).Methods("GET")
	router.HandleFunc("/crawls/{crawl}/queues", c.Queues).Methods("GET")
	router.HandleFunc("/rest/add", c.Add).Methods("POST")
	router.HandleFunc("/rest/complete", c.Complete).Methods("POST")
	router.HandleFunc("/rest/drain", c.Drain).Methods("POST")
	return router
}

// Serve runs the console on the configured port; it blocks until ctx is
// cancelled.
func (c *Console) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", frontier.Config.Console.Port),
		Handler: c.Handler(),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Infof("Console listening on %v", srv.Addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stats returns the aggregate counters, optionally for ?crawl=<id>.
func (c *Console) Stats(w http.ResponseWriter, req *http.Request) {
	stats := c.engine.GetStats(req.URL.Query().Get("crawl"))
	Render.JSON(w, http.StatusOK, stats)
}

// Health returns 200 while the engine is healthy and 503 once it has
// entered read-only mode.
func (c *Console) Health(w http.ResponseWriter, req *http.Request) {
	if c.engine.ReadOnly() {
		Render.JSON(w, http.StatusServiceUnavailable, buildError("read-only", "Engine is in read-only mode"))
		return
	}
	Render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Crawls lists all crawl ids.
func (c *Console) Crawls(w http.ResponseWriter, req *http.Request) {
	ids, err := c.engine.ListCrawls()
	if err != nil {
		log.Errorf("Console failed to list crawls: %v", err)
		Render.JSON(w, http.StatusInternalServerError, buildError("list-crawls", "%v", err))
		return
	}
	Render.JSON(w, http.StatusOK, map[string][]string{"crawls": ids})
}

// Queues lists the queues of one crawl; ?all=1 includes inactive queues.
func (c *Console) Queues(w http.ResponseWriter, req *http.Request) {
	crawl := mux.Vars(req)["crawl"]
	includeInactive := req.URL.Query().Get("all") != ""
	Render.JSON(w, http.StatusOK, map[string]interface{}{
		"crawl":  crawl,
		"queues": c.engine.ListQueues(crawl, includeInactive),
	})
}

type addRequest struct {
	Version int    `json:"version"`
	CrawlID string `json:"crawl_id"`
	Links   []struct {
		URL string `json:"url"`
	} `json:"links"`
}

type addResponse struct {
	Version int      `json:"version"`
	Acks    []string `json:"acks"`
}

// Add ingests a batch of links as discovered URLs.
func (c *Console) Add(w http.ResponseWriter, req *http.Request) {
	decoder := json.NewDecoder(req.Body)
	var adds addRequest
	err := decoder.Decode(&adds)
	if err != nil {
		log.Errorf("Console add failed to decode: %v", err)
		Render.JSON(w, http.StatusBadRequest, buildError("bad-json-decode", "%v", err))
		return
	}

	if adds.CrawlID == "" {
		Render.JSON(w, http.StatusBadRequest, buildError("empty-crawl", "No crawl_id provided"))
		return
	}
	if len(adds.Links) == 0 {
		Render.JSON(w, http.StatusBadRequest, buildError("empty-links", "No links provided to add"))
		return
	}

	resp := addResponse{Version: 1}
	for _, l := range adds.Links {
		if l.URL == "" {
			Render.JSON(w, http.StatusBadRequest, buildError("bad-link-element", "No URL provided for link"))
			return
		}
		ack := c.engine.IngestItem(req.Context(), &frontier.URLItem{
			Info: frontier.URLInfo{URL: l.URL, CrawlID: adds.CrawlID},
		})
		resp.Acks = append(resp.Acks, ack.Status.String())
	}
	Render.JSON(w, http.StatusOK, resp)
}

type completeRequest struct {
	CrawlID string `json:"crawl_id"`
	Key     string `json:"key"`
	URL     string `json:"url"`
}

// Complete acknowledges that a served URL has been processed, removing it
// from the frontier for good.
func (c *Console) Complete(w http.ResponseWriter, req *http.Request) {
	var cr completeRequest
	if err := json.NewDecoder(req.Body).Decode(&cr); err != nil {
		Render.JSON(w, http.StatusBadRequest, buildError("bad-json-decode", "%v", err))
		return
	}
	if cr.CrawlID == "" || cr.Key == "" || cr.URL == "" {
		Render.JSON(w, http.StatusBadRequest, buildError("missing-field", "crawl_id, key and url are all required"))
		return
	}
	if err := c.engine.MarkCompleted(cr.CrawlID, cr.Key, cr.URL); err != nil {
		Render.JSON(w, http.StatusInternalServerError, buildError("complete", "%v", err))
		return
	}
	Render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type drainRequest struct {
	CrawlID string `json:"crawl_id"`
	Key     string `json:"key"`
}

// Drain puts a queue into draining: no new URLs, served until empty, then
// deleted.
func (c *Console) Drain(w http.ResponseWriter, req *http.Request) {
	var dr drainRequest
	if err := json.NewDecoder(req.Body).Decode(&dr); err != nil {
		Render.JSON(w, http.StatusBadRequest, buildError("bad-json-decode", "%v", err))
		return
	}
	if err := c.engine.DrainQueue(dr.CrawlID, dr.Key); err != nil {
		Render.JSON(w, http.StatusNotFound, buildError("no-such-queue", "%v", err))
		return
	}
	Render.JSON(w, http.StatusOK, map[string]string{"status": "draining"})
}
