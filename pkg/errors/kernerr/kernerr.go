// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kernerr contains the kernel status codes exported as error
// interface pointers. This allows for fast comparison and return operations
// comparable to errno constants.
package kernerr

import (
	goerrors "errors"

	"gvisor.dev/mkern/pkg/errors"
)

// Status values, in the order user libraries expect them.
const (
	SUCC errors.Status = iota
	MEM
	INVALCALLNR
	INVALPID
	INVALADDR
	EXCEEDSQUOTA
	MAXCHILDREN
	INVALCHILDID
	BUSY
	FAULT
)

// The following errors are returned by kernel operations. A nil error maps
// to SUCC.
var (
	EMEM          = errors.New(MEM, "memory copy failed")
	EINVALCALLNR  = errors.New(INVALCALLNR, "invalid syscall number")
	EINVALPID     = errors.New(INVALPID, "invalid process id")
	EINVALADDR    = errors.New(INVALADDR, "address outside the user region")
	EEXCEEDSQUOTA = errors.New(EXCEEDSQUOTA, "memory quota exceeded")
	EMAXCHILDREN  = errors.New(MAXCHILDREN, "maximum number of children reached")
	EINVALCHILDID = errors.New(INVALCHILDID, "invalid child id")
	EBUSY         = errors.New(BUSY, "previous message not yet received")
	EFAULT        = errors.New(FAULT, "bad physical address")
)

var names = map[errors.Status]string{
	SUCC:         "E_SUCC",
	MEM:          "E_MEM",
	INVALCALLNR:  "E_INVAL_CALLNR",
	INVALPID:     "E_INVAL_PID",
	INVALADDR:    "E_INVAL_ADDR",
	EXCEEDSQUOTA: "E_EXCEEDS_QUOTA",
	MAXCHILDREN:  "E_MAX_NUM_CHILDREN_REACHED",
	INVALCHILDID: "E_INVAL_CHILD_ID",
	BUSY:         "E_BUSY",
	FAULT:        "E_FAULT",
}

// Name returns the symbolic name of s.
func Name(s errors.Status) string {
	if n, ok := names[s]; ok {
		return n
	}
	return s.String()
}

// StatusOf maps err to the status reported to user code. Errors that do not
// carry a status are reported as MEM, which is how the kernel reports any
// failed memory operation.
func StatusOf(err error) errors.Status {
	if err == nil {
		return SUCC
	}
	var kerr *errors.Error
	if goerrors.As(err, &kerr) {
		return kerr.Status()
	}
	return MEM
}

var byStatus = map[errors.Status]*errors.Error{
	MEM:          EMEM,
	INVALCALLNR:  EINVALCALLNR,
	INVALPID:     EINVALPID,
	INVALADDR:    EINVALADDR,
	EXCEEDSQUOTA: EEXCEEDSQUOTA,
	MAXCHILDREN:  EMAXCHILDREN,
	INVALCHILDID: EINVALCHILDID,
	BUSY:         EBUSY,
	FAULT:        EFAULT,
}

// FromStatus is the inverse of StatusOf: it returns the sentinel for s, or
// nil for SUCC. Unknown statuses get a fresh error carrying s.
func FromStatus(s errors.Status) error {
	if s == SUCC {
		return nil
	}
	if e, ok := byStatus[s]; ok {
		return e
	}
	return errors.New(s, "unknown status "+s.String())
}
