// Copyright 2018 The gVisor Authors.
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

package arch

// Numbered syscall services. a1 (Arg(0)) carries one of these; 0 and
// anything past SysWaitIO is an undefined service per the SYSCALL trap
// handler's own validation.
const (
	SysCreate      uint32 = 1
	SysTerminate   uint32 = 2
	SysV           uint32 = 3
	SysP           uint32 = 4
	SysSpecTrapVec uint32 = 5
	SysGetCPUTime  uint32 = 6
	SysWaitClock   uint32 = 7
	SysWaitIO      uint32 = 8

	MaxSyscall = SysWaitIO
)
