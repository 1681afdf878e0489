// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds deploy credentials in memory that cannot leak
// through swap or core dumps.
//
// A pipeline's deploy stage declares credentials as name-to-file-path
// pairs. [LoadSet] reads each file into a [Buffer]: memory allocated
// outside the Go heap via mmap(MAP_ANONYMOUS), locked into physical
// RAM with mlock, and marked MADV_DONTDUMP. The garbage collector
// never sees the region, so it cannot copy the bytes around the heap;
// Close zeroes them and unmaps.
//
// [Set.Env] produces the NAME=value environment for deploy commands.
// Those strings are ordinary heap copies handed to the child process;
// the locked buffers remain the at-rest home of the values until the
// set is closed at the end of the stage. Secret values never appear
// in logs, results, or history records; only their names do.
package secret
