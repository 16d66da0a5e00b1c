// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"github.com/evochora/pipeline/pkg/analyticsplugin"
)

// buildRegistry returns the analytics plugin registry this deployment
// serves. Plugin business logic (the per-metric Row-extraction code) is
// out of scope here; operators register their own Constructors against
// class_name values referenced from indexer-config.json. An empty
// registry is a valid configuration for a run with no plugins.
func buildRegistry() *analyticsplugin.Registry {
	r := analyticsplugin.NewRegistry()
	return r
}
