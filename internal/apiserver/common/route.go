/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The file defines the route table shared by all api handlers.
package common

import (
	"net/http"
)

type Route struct {
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

type ApiHandler interface {
	GetRoutes() []Route
}

// RegisterHandler adds the routes of h to mux as method patterns. Requests to a known path
// with another method get 405 from the mux.
func RegisterHandler(mux *http.ServeMux, h ApiHandler) {
	for _, r := range h.GetRoutes() {
		mux.HandleFunc(r.Method+" "+r.Pattern, r.HandlerFunc)
	}
}
