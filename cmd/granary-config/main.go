// Copyright 2022 Granary Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// granary-config writes the default store configuration as a toml
// file, ready to edit and hand to the other granary tools.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/granarydb/granary/pkg/config"
)

var (
	outFile = flag.String("o", "", "write to this file instead of stdout, refusing to clobber")
	dataDir = flag.String("data-dir", "", "seed the data directory into the generated file")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	out := os.Stdout
	if *outFile != "" {
		f, err := os.OpenFile(*outFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "granary-config: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := toml.NewEncoder(out).Encode(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "granary-config: %v\n", err)
		os.Exit(1)
	}
}
