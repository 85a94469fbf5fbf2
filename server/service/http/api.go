// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/CeresDB/tabletmeta/server/limiter"
	"github.com/CeresDB/tabletmeta/server/vtable"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	statusSuccess string = "success"
	statusError   string = "error"
)

type BalanceRunner interface {
	RunOnce(ctx context.Context) ([]balancer.PassResult, error)
}

type TaskLister interface {
	ListPending() []task.Info
}

type BlacklistEditor interface {
	Blacklist() metadata.Blacklist
	AddToBlacklist(ctx context.Context, serverID metadata.TabletServerID) error
	RemoveFromBlacklist(ctx context.Context, serverID metadata.TabletServerID) error
}

type HeartbeatReceiver interface {
	Heartbeat(desc metadata.TabletServerDescriptor) error
}

type API struct {
	vtables    *vtable.Registry
	runner     BalanceRunner
	tasks      TaskLister
	blacklist  BlacklistEditor
	heartbeats HeartbeatReceiver

	flowLimiter *limiter.FlowLimiter
	gatherer    prometheus.Gatherer
}

func NewAPI(vtables *vtable.Registry, runner BalanceRunner, tasks TaskLister, blacklist BlacklistEditor,
	heartbeats HeartbeatReceiver, flowLimiter *limiter.FlowLimiter, gatherer prometheus.Gatherer,
) *API {
	return &API{
		vtables:     vtables,
		runner:      runner,
		tasks:       tasks,
		blacklist:   blacklist,
		heartbeats:  heartbeats,
		flowLimiter: flowLimiter,
		gatherer:    gatherer,
	}
}

func (a *API) NewAPIRouter() *Router {
	router := New()
	router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	apiRouter := router.WithPrefix("/api/v1").WithInstrumentation(printRequestInsmt).WithInstrumentation(a.flowLimitInsmt)
	apiRouter.Get("/vtables/{name}", a.readVirtualTable)
	apiRouter.Get("/balancer/tasks", a.listTasks)
	apiRouter.Post("/balancer/run", a.runBalancer)
	apiRouter.Get("/blacklist", a.getBlacklist)
	apiRouter.Put("/blacklist/{server}", a.addToBlacklist)
	apiRouter.Delete("/blacklist/{server}", a.removeFromBlacklist)
	apiRouter.Put("/servers/{server}/heartbeat", a.heartbeat)

	return router
}

// printRequestInsmt used for printing every request information.
func printRequestInsmt(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		log.Info("receive http request", zap.String("handlerName", handlerName), zap.String("client host", request.RemoteAddr),
			zap.String("method", request.Method), zap.String("params", request.URL.RawQuery))
		handler.ServeHTTP(writer, request)
	}
}

// flowLimitInsmt rejects requests over the rate of the route.
func (a *API) flowLimitInsmt(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if a.flowLimiter != nil && !a.flowLimiter.Allow(handlerName) {
			log.Warn("http request is throttled", zap.String("handlerName", handlerName))
			a.respondError(writer, errors.WithMessagef(ErrFlowLimited, "route:%s", handlerName))
			return
		}
		handler.ServeHTTP(writer, request)
	}
}

type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a *API) respond(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response{Status: statusSuccess, Data: data}); err != nil {
		log.Error("write http response", zap.Error(err))
	}
}

func (a *API) respondError(w http.ResponseWriter, err error) {
	code, ok := coderr.GetCauseCode(err)
	if !ok {
		code = coderr.Internal
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.ToHTTPCode())
	if encodeErr := json.NewEncoder(w).Encode(response{Status: statusError, Code: int(code), Error: err.Error()}); encodeErr != nil {
		log.Error("write http error response", zap.Error(encodeErr))
	}
}

type VirtualTableResult struct {
	Table   string       `json:"table"`
	Columns []string     `json:"columns"`
	Rows    []vtable.Row `json:"rows"`
}

// readVirtualTable filters rows by exact match on the column ids given as query parameters.
// Parameter values are matched as strings.
func (a *API) readVirtualTable(w http.ResponseWriter, req *http.Request) {
	table, err := a.vtables.Get(mux.Vars(req)["name"])
	if err != nil {
		a.respondError(w, err)
		return
	}

	readReq, err := parseReadRequest(req)
	if err != nil {
		a.respondError(w, err)
		return
	}

	schema := table.Schema()
	scanSpec, _, readTime, err := table.BuildScanSpec(readReq, vtable.HybridTime(0), schema, false, vtable.Schema{})
	if err != nil {
		a.respondError(w, err)
		return
	}
	it, err := table.GetIterator(req.Context(), readReq, schema, schema, nil, readTime)
	if err != nil {
		a.respondError(w, err)
		return
	}

	result := VirtualTableResult{Table: table.Name(), Rows: make([]vtable.Row, 0, it.Len())}
	for _, column := range schema.Columns {
		result.Columns = append(result.Columns, column.Name)
	}
	for it.HasNext() {
		row, err := it.NextRow(schema)
		if err != nil {
			a.respondError(w, err)
			return
		}
		ok, err := scanSpec.Matches(schema, row)
		if err != nil {
			a.respondError(w, err)
			return
		}
		if ok {
			result.Rows = append(result.Rows, row)
		}
	}
	a.respond(w, result)
}

func parseReadRequest(req *http.Request) (vtable.ReadRequest, error) {
	var readReq vtable.ReadRequest
	query := req.URL.Query()
	for key, values := range query {
		id, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return readReq, ErrParseRequest.WithCausef("column id:%s", key)
		}
		readReq.HashedColumnValues = append(readReq.HashedColumnValues, vtable.ColumnValue{
			ColumnID: vtable.ColumnID(id),
			Value:    values[0],
		})
	}
	// Query parameters are unordered, evaluate the predicates by column id.
	sort.Slice(readReq.HashedColumnValues, func(i, j int) bool {
		return readReq.HashedColumnValues[i].ColumnID < readReq.HashedColumnValues[j].ColumnID
	})
	return readReq, nil
}

func (a *API) listTasks(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, a.tasks.ListPending())
}

type PassSummary struct {
	Domain  string            `json:"domain"`
	Actions []metadata.Action `json:"actions"`
	Visited int               `json:"visited"`
	Skipped int               `json:"skipped"`
	Idle    bool              `json:"idle"`
}

func (a *API) runBalancer(w http.ResponseWriter, req *http.Request) {
	results, err := a.runner.RunOnce(req.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	summaries := make([]PassSummary, 0, len(results))
	for _, result := range results {
		summaries = append(summaries, PassSummary{
			Domain:  result.Domain.String(),
			Actions: result.Actions,
			Visited: result.TabletsVisited,
			Skipped: result.TabletsSkipped,
			Idle:    result.IsIdle(),
		})
	}
	a.respond(w, summaries)
}

func (a *API) getBlacklist(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, a.blacklist.Blacklist())
}

func (a *API) addToBlacklist(w http.ResponseWriter, req *http.Request) {
	serverID := metadata.TabletServerID(mux.Vars(req)["server"])
	if err := a.blacklist.AddToBlacklist(req.Context(), serverID); err != nil {
		a.respondError(w, err)
		return
	}
	a.respond(w, a.blacklist.Blacklist())
}

func (a *API) removeFromBlacklist(w http.ResponseWriter, req *http.Request) {
	serverID := metadata.TabletServerID(mux.Vars(req)["server"])
	if err := a.blacklist.RemoveFromBlacklist(req.Context(), serverID); err != nil {
		a.respondError(w, err)
		return
	}
	a.respond(w, a.blacklist.Blacklist())
}

type HeartbeatRequest struct {
	Cloud         metadata.CloudInfo `json:"cloud"`
	PlacementUUID string             `json:"placementUUID"`
}

// heartbeat registers a tablet server or refreshes its liveness.
func (a *API) heartbeat(w http.ResponseWriter, req *http.Request) {
	var heartbeatReq HeartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&heartbeatReq); err != nil {
		log.Error("decode request body failed", zap.Error(err))
		a.respondError(w, ErrParseRequest.WithCause(err))
		return
	}

	desc := metadata.TabletServerDescriptor{
		ID:            metadata.TabletServerID(mux.Vars(req)["server"]),
		Cloud:         heartbeatReq.Cloud,
		PlacementUUID: heartbeatReq.PlacementUUID,
	}
	if err := a.heartbeats.Heartbeat(desc); err != nil {
		a.respondError(w, err)
		return
	}
	a.respond(w, nil)
}
