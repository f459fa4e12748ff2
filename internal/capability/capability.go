// Package capability implements capability sets and the process-wide negotiation pools
// from which observers are granted introspection features.
package capability

import (
	"sort"
	"strings"

	"github.com/vmti/pkg/collections"
)

// Capability names a single grantable introspection feature.
type Capability int

const (
	TagObjects Capability = iota
	GenerateFieldModificationEvents
	GenerateFieldAccessEvents
	GetBytecodes
	GetSyntheticAttribute
	GetOwnedMonitorInfo
	GetCurrentContendedMonitor
	GetMonitorInfo
	PopFrame
	RedefineClasses
	SignalThread
	GetSourceFileName
	GetLineNumbers
	GetSourceDebugExtension
	AccessLocalVariables
	MaintainOriginalMethodOrder
	GenerateSingleStepEvents
	GenerateExceptionEvents
	GenerateFramePopEvents
	GenerateBreakpointEvents
	Suspend
	RedefineAnyClass
	GetCurrentThreadCPUTime
	GetThreadCPUTime
	GenerateMethodEntryEvents
	GenerateMethodExitEvents
	GenerateAllClassHookEvents
	GenerateCompiledMethodLoadEvents
	GenerateMonitorEvents
	GenerateVMObjectAllocEvents
	GenerateNativeMethodBindEvents
	GenerateGarbageCollectionEvents
	GenerateObjectFreeEvents
	ForceEarlyReturn
	GetOwnedMonitorStackDepthInfo
	GetConstantPool
	SetNativeMethodPrefix
	RetransformClasses
	RetransformAnyClass
	GenerateResourceExhaustionHeapEvents
	GenerateResourceExhaustionThreadsEvents
	GenerateEarlyVMStart
	GenerateEarlyClassHookEvents
	GenerateSampledObjectAllocEvents

	// NumCapabilities is the fixed width of every Set.
	NumCapabilities
)

var names = [NumCapabilities]string{
	TagObjects:                              "tag_objects",
	GenerateFieldModificationEvents:         "generate_field_modification_events",
	GenerateFieldAccessEvents:               "generate_field_access_events",
	GetBytecodes:                            "get_bytecodes",
	GetSyntheticAttribute:                   "get_synthetic_attribute",
	GetOwnedMonitorInfo:                     "get_owned_monitor_info",
	GetCurrentContendedMonitor:              "get_current_contended_monitor",
	GetMonitorInfo:                          "get_monitor_info",
	PopFrame:                                "pop_frame",
	RedefineClasses:                         "redefine_classes",
	SignalThread:                            "signal_thread",
	GetSourceFileName:                       "get_source_file_name",
	GetLineNumbers:                          "get_line_numbers",
	GetSourceDebugExtension:                 "get_source_debug_extension",
	AccessLocalVariables:                    "access_local_variables",
	MaintainOriginalMethodOrder:             "maintain_original_method_order",
	GenerateSingleStepEvents:                "generate_single_step_events",
	GenerateExceptionEvents:                 "generate_exception_events",
	GenerateFramePopEvents:                  "generate_frame_pop_events",
	GenerateBreakpointEvents:                "generate_breakpoint_events",
	Suspend:                                 "suspend",
	RedefineAnyClass:                        "redefine_any_class",
	GetCurrentThreadCPUTime:                 "get_current_thread_cpu_time",
	GetThreadCPUTime:                        "get_thread_cpu_time",
	GenerateMethodEntryEvents:               "generate_method_entry_events",
	GenerateMethodExitEvents:                "generate_method_exit_events",
	GenerateAllClassHookEvents:              "generate_all_class_hook_events",
	GenerateCompiledMethodLoadEvents:        "generate_compiled_method_load_events",
	GenerateMonitorEvents:                   "generate_monitor_events",
	GenerateVMObjectAllocEvents:             "generate_vm_object_alloc_events",
	GenerateNativeMethodBindEvents:          "generate_native_method_bind_events",
	GenerateGarbageCollectionEvents:         "generate_garbage_collection_events",
	GenerateObjectFreeEvents:                "generate_object_free_events",
	ForceEarlyReturn:                        "force_early_return",
	GetOwnedMonitorStackDepthInfo:           "get_owned_monitor_stack_depth_info",
	GetConstantPool:                         "get_constant_pool",
	SetNativeMethodPrefix:                   "set_native_method_prefix",
	RetransformClasses:                      "retransform_classes",
	RetransformAnyClass:                     "retransform_any_class",
	GenerateResourceExhaustionHeapEvents:    "generate_resource_exhaustion_heap_events",
	GenerateResourceExhaustionThreadsEvents: "generate_resource_exhaustion_threads_events",
	GenerateEarlyVMStart:                    "generate_early_vmstart",
	GenerateEarlyClassHookEvents:            "generate_early_class_hook_events",
	GenerateSampledObjectAllocEvents:        "generate_sampled_object_alloc_events",
}

// String returns the capability's configuration name.
func (c Capability) String() string {
	if c < 0 || c >= NumCapabilities {
		return "unknown"
	}
	return names[c]
}

// Parse looks a capability up by its configuration name.
func Parse(name string) (Capability, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "can_")
	for i, n := range names {
		if n == name {
			return Capability(i), true
		}
	}
	return 0, false
}

// Set is a fixed-width capability bit vector with value semantics: every operation
// returns a new Set and leaves its operands untouched.
type Set struct {
	bits *collections.Bitset
}

// Of builds a Set from individual capabilities.
func Of(caps ...Capability) Set {
	b := collections.NewBitset(int(NumCapabilities))
	for _, c := range caps {
		if c >= 0 && c < NumCapabilities {
			b.Set(int(c))
		}
	}
	return Set{bits: b}
}

// ParseSet builds a Set from configuration names and reports any names it did not know.
func ParseSet(list []string) (Set, []string) {
	s := Of()
	var unknown []string
	for _, name := range list {
		c, ok := Parse(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		s.bits.Set(int(c))
	}
	return s, unknown
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	return s.bits.Test(int(c))
}

// IsEmpty reports whether the set holds no capability.
func (s Set) IsEmpty() bool {
	return s.bits.IsEmpty()
}

// Len returns the number of capabilities in the set.
func (s Set) Len() int {
	return s.bits.Count()
}

// Equal reports whether both sets hold the same capabilities.
func (s Set) Equal(o Set) bool {
	return s.bits.Equal(o.bits)
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	return Set{bits: s.bits.Union(o.bits)}
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	return Set{bits: s.bits.Intersect(o.bits)}
}

// Exclude returns s ∖ o.
func (s Set) Exclude(o Set) Set {
	return Set{bits: s.bits.Difference(o.bits)}
}

// With returns s with c added.
func (s Set) With(c Capability) Set {
	return s.Union(Of(c))
}

// SubsetOf reports whether every capability in s is also in o.
func (s Set) SubsetOf(o Set) bool {
	return s.Exclude(o).IsEmpty()
}

// List returns the capabilities in ascending order.
func (s Set) List() []Capability {
	if s.IsEmpty() {
		return nil
	}
	out := make([]Capability, 0, s.bits.Count())
	s.bits.Each(func(i int) bool {
		out = append(out, Capability(i))
		return true
	})
	return out
}

// Names returns the sorted configuration names in the set.
func (s Set) Names() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.String()
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer.
func (s Set) String() string {
	return "[" + strings.Join(s.Names(), " ") + "]"
}
