// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Instrumentation wraps every handler registered on a Router.
type Instrumentation func(handlerName string, handler http.HandlerFunc) http.HandlerFunc

// Router registers handlers under a common prefix on a gorilla/mux router.
type Router struct {
	mux    *mux.Router
	prefix string
	instrh Instrumentation
}

func New() *Router {
	return &Router{mux: mux.NewRouter()}
}

func (r *Router) WithPrefix(prefix string) *Router {
	return &Router{mux: r.mux, prefix: r.prefix + prefix, instrh: r.instrh}
}

func (r *Router) WithInstrumentation(instrh Instrumentation) *Router {
	if r.instrh != nil {
		prev := r.instrh
		return &Router{mux: r.mux, prefix: r.prefix, instrh: func(name string, h http.HandlerFunc) http.HandlerFunc {
			return prev(name, instrh(name, h))
		}}
	}
	return &Router{mux: r.mux, prefix: r.prefix, instrh: instrh}
}

func (r *Router) handle(method, path string, h http.HandlerFunc) {
	name := r.prefix + path
	if r.instrh != nil {
		h = r.instrh(name, h)
	}
	r.mux.HandleFunc(name, h).Methods(method)
}

func (r *Router) Get(path string, h http.HandlerFunc) {
	r.handle(http.MethodGet, path, h)
}

func (r *Router) Post(path string, h http.HandlerFunc) {
	r.handle(http.MethodPost, path, h)
}

func (r *Router) Put(path string, h http.HandlerFunc) {
	r.handle(http.MethodPut, path, h)
}

func (r *Router) Delete(path string, h http.HandlerFunc) {
	r.handle(http.MethodDelete, path, h)
}

// Handle registers a plain handler without prefix or instrumentation.
func (r *Router) Handle(path string, h http.Handler) {
	r.mux.Handle(path, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
