// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmp

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/microbench/pkg/bench"
)

// Job describes one coordinator invocation.
//
// A job names a registered payload so that re-executed worker processes can
// build their own instance. An in-process Payload may be supplied instead,
// but only for a single unisolated process since it cannot cross exec.
type Job struct {
	// Name is the registered payload name.
	Name string

	// Params are passed to the payload factory.
	Params Params

	// Payload is an in-process payload. Mutually exclusive with Name.
	Payload bench.Payload

	// Target is the requested timed interval. Zero means the calibrated Enough.
	Target time.Duration

	// Parallelism is the number of concurrent worker processes.
	Parallelism int

	// Warmup is the number of unmeasured work calls after start, each of
	// the run's iteration count.
	Warmup int

	// Repetitions is the number of trials per worker. Zero means timing.Tries.
	Repetitions int

	// Isolate runs a single-process job in a worker process rather than in
	// the coordinator's own process.
	Isolate bool
}

// Label is the payload name, or "inline" for in-process payloads.
func (j Job) Label() string {
	if j.Name != "" {
		return j.Name
	}
	return "inline"
}

// Validate reports whether the job can run.
func (j Job) Validate() error {
	switch {
	case j.Name == "" && j.Payload == nil:
		return fmt.Errorf("%w: no payload", ErrInvalidJob)
	case j.Name != "" && j.Payload != nil:
		return fmt.Errorf("%w: both a payload name and an in-process payload", ErrInvalidJob)
	case j.Parallelism < 0:
		return fmt.Errorf("%w: parallelism %d", ErrInvalidJob, j.Parallelism)
	case j.Warmup < 0:
		return fmt.Errorf("%w: warmup %d", ErrInvalidJob, j.Warmup)
	case j.Repetitions < 0:
		return fmt.Errorf("%w: repetitions %d", ErrInvalidJob, j.Repetitions)
	case j.Target < 0:
		return fmt.Errorf("%w: target %v", ErrInvalidJob, j.Target)
	case j.Payload != nil && (j.Parallelism > 1 || j.Isolate):
		return fmt.Errorf("%w: in-process payloads cannot run in worker processes", ErrInvalidJob)
	}
	if j.Name != "" {
		if _, err := lookup(j.Name); err != nil {
			return err
		}
	}
	return nil
}

func (j Job) withDefaults(tries int) Job {
	if j.Parallelism == 0 {
		j.Parallelism = 1
	}
	if j.Repetitions == 0 {
		j.Repetitions = tries
	}
	return j
}

// single is the baseline job for j.
func (j Job) single() Job {
	j.Parallelism = 1
	j.Warmup = 0
	return j
}

// local reports whether the job runs in the coordinator's own process.
func (j Job) local() bool {
	return j.Parallelism == 1 && !j.Isolate
}

// -----------------------------------------------------------------------------
// Params
// -----------------------------------------------------------------------------

// Params are string key/value payload parameters.
type Params map[string]string

// ParseParams parses "key=value" pairs.
func ParseParams(pairs []string) (Params, error) {
	p := Params{}
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", ErrInvalidJob, kv)
		}
		p[k] = strings.TrimSpace(v)
	}
	return p, nil
}

// String returns the value for key, or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}

// Bytes returns a byte size for key, or def. Sizes accept k, m and g
// suffixes (powers of two), matching the usual benchmark conventions.
func (p Params) Bytes(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := ParseSize(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}

// ParseSize parses "64", "16k", "8m" or "1g".
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1<<10, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1<<20, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "g"):
		mult, s = 1<<30, strings.TrimSuffix(s, "g")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size %q overflows int64", s)
	}
	return n * mult, nil
}

// Keys returns the parameter names in order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode renders the parameters as sorted "k=v" pairs joined by commas.
func (p Params) Encode() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}
