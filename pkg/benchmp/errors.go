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

import "errors"

var (
	// ErrSpawn indicates a worker process could not be started. Any workers
	// already started have been killed and reaped.
	ErrSpawn = errors.New("failed to spawn worker")

	// ErrWorkerDied indicates a worker exited before it was told to.
	ErrWorkerDied = errors.New("worker died unexpectedly")

	// ErrProtocol indicates a malformed message between coordinator and worker.
	ErrProtocol = errors.New("worker protocol violation")

	// ErrUnknownPayload indicates a payload name missing from the registry.
	ErrUnknownPayload = errors.New("unknown payload")

	// ErrInvalidJob indicates a job that cannot be run as configured.
	ErrInvalidJob = errors.New("invalid job")

	// ErrNotWorker indicates RunWorker was called outside a worker process.
	ErrNotWorker = errors.New("not running as a worker")
)
