// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mediaendpoint

import "sync/atomic"

type atomicBool struct {
	val int32
}

func (b *atomicBool) set(value bool) {
	var i int32
	if value {
		i = 1
	}

	atomic.StoreInt32(&b.val, i)
}

func (b *atomicBool) get() bool {
	return atomic.LoadInt32(&b.val) != 0
}

// swap sets the value and returns the previous one.
func (b *atomicBool) swap(value bool) bool {
	var i int32
	if value {
		i = 1
	}

	return atomic.SwapInt32(&b.val, i) != 0
}
