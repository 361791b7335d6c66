package board

import "slateboard/internal/core/ports"

type nopMetrics struct{}

// NopMetrics returns a Metrics implementation that records nothing. Used
// in tests and when monitoring is disabled.
func NopMetrics() ports.Metrics { return nopMetrics{} }

func (nopMetrics) BoardOpened()               {}
func (nopMetrics) BoardEvicted()              {}
func (nopMetrics) MemberJoined()              {}
func (nopMetrics) MemberLeft()                {}
func (nopMetrics) MutationAccepted(string)    {}
func (nopMetrics) MutationRejected(string)    {}
func (nopMetrics) FanoutObserved(int)         {}
func (nopMetrics) StorageWriteError()         {}
