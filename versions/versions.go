// Package versions holds the build-time Version Reader / Address Finder
// registration table: one entry per supported Ruby release, each pairing a
// versionreader.StackLayout with the addressfinder.Layout used to validate
// scanned pointer candidates on stripped binaries.
//
// A production build would generate this file from struct-layout
// extraction tooling run against each Ruby release's headers; these are
// hand-kept for the versions this module targets.
package versions

import (
	"github.com/fencepost/rbprof/addressfinder"
	"github.com/fencepost/rbprof/dispatch"
	"github.com/fencepost/rbprof/versionreader"
)

func entry(version string, supportsCTA bool, stack versionreader.StackLayout, scan addressfinder.Layout) dispatch.Registration {
	return dispatch.Registration{Entry: dispatch.Entry{
		Version:                   version,
		Reader:                    versionreader.New(version, stack),
		Layout:                    scan,
		SupportsCurrentThreadSlot: supportsCTA,
	}}
}

// cfp65 is the rb_control_frame_t size shared by every >=2.6 version
// registered below: pc, iseq, ep, self, block_code, plus alignment padding
// on 64-bit builds.
const cfp65 = 48

// All returns the complete build-time table, ready to hand to
// dispatch.NewTable.
func All() []dispatch.Registration {
	return []dispatch.Registration{
		// Ruby >= 3.0: current_thread_slot is the sentinel 0; the reader
		// resolves the running execution context through vm->ractor.
		entry("3.2.0", false, versionreader.StackLayout{
			VMRactorOffset:                  16,
			RactorRunningECOffset:           8,
			ECCFPOffset:                     16,
			CFPSize:                         cfp65,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     96,
			IseqLocationLineTableSizeOffset: 104,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 24}),

		entry("3.1.0", false, versionreader.StackLayout{
			VMRactorOffset:                  16,
			RactorRunningECOffset:           8,
			ECCFPOffset:                     16,
			CFPSize:                         cfp65,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     96,
			IseqLocationLineTableSizeOffset: 104,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 24}),

		entry("3.0.0", false, versionreader.StackLayout{
			VMRactorOffset:                  16,
			RactorRunningECOffset:           8,
			ECCFPOffset:                     16,
			CFPSize:                         cfp65,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     96,
			IseqLocationLineTableSizeOffset: 104,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 24}),

		// Ruby 2.x: current_thread_slot points directly at the running
		// rb_thread_t; there is no ractor indirection.
		entry("2.7.0", true, versionreader.StackLayout{
			ThreadECOffset:                  32,
			ECCFPOffset:                     16,
			CFPSize:                         cfp65,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     88,
			IseqLocationLineTableSizeOffset: 96,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 312}),

		entry("2.6.0", true, versionreader.StackLayout{
			ThreadECOffset:                  24,
			ECCFPOffset:                     16,
			CFPSize:                         cfp65,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     88,
			IseqLocationLineTableSizeOffset: 96,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 296}),

		entry("2.5.0", true, versionreader.StackLayout{
			ThreadECOffset:                  0,
			ECCFPOffset:                     16,
			CFPSize:                         56,
			CFPPCOffset:                     0,
			CFPIseqOffset:                   16,
			CFPEPOffset:                     24,
			IseqBodyOffset:                  16,
			IseqBodyLocationOffset:          64,
			IseqBodyEncodedOffset:           0,
			IseqLocationPathOffset:          0,
			IseqLocationLabelOffset:         16,
			IseqLocationLineTableOffset:     88,
			IseqLocationLineTableSizeOffset: 96,
			MaxFrames:                       2048,
		}, addressfinder.Layout{VMSelfOffset: 0, MainThreadOffset: 280}),
	}
}
