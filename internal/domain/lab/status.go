package lab

import "github.com/lims/lims/internal/platform/workflow"

// DocumentStatus is the customer-facing paperwork state of a test request.
type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "DRAFT"
	DocumentSubmitted DocumentStatus = "SUBMITTED"
	DocumentApproved  DocumentStatus = "APPROVED"
	DocumentRejected  DocumentStatus = "REJECTED"
	DocumentCompleted DocumentStatus = "COMPLETED"
	DocumentCancelled DocumentStatus = "CANCELLED"
)

// LabInternalStatus is the lab's own workflow state of a test request.
type LabInternalStatus string

const (
	InternalWaitingApproval    LabInternalStatus = "WAITING_APPROVAL_LAB"
	InternalSampleReceived     LabInternalStatus = "SAMPLE_RECEIVED"
	InternalTechnicianAssigned LabInternalStatus = "TECHNICIAN_ASSIGNED"
	InternalTesting            LabInternalStatus = "TESTING"
	InternalResultsUploaded    LabInternalStatus = "RESULTS_UPLOADED"
	InternalReviewed           LabInternalStatus = "REVIEWED"
	InternalCompleted          LabInternalStatus = "COMPLETED"
	InternalRejected           LabInternalStatus = "REJECTED"
)

type SampleStatus string

const (
	SamplePending   SampleStatus = "PENDING"
	SampleReceived  SampleStatus = "RECEIVED"
	SampleInTesting SampleStatus = "IN_TESTING"
	SampleCompleted SampleStatus = "COMPLETED"
	SampleRejected  SampleStatus = "REJECTED"
)

type LabResultStatus string

const (
	ResultPending   LabResultStatus = "PENDING"
	ResultPartial   LabResultStatus = "PARTIAL"
	ResultCompleted LabResultStatus = "COMPLETED"
	ResultReviewed  LabResultStatus = "REVIEWED"
	ResultApproved  LabResultStatus = "APPROVED"
	ResultRejected  LabResultStatus = "REJECTED"
)

var documentFlow = workflow.Machine[DocumentStatus]{
	Entity: "document",
	Order:  []DocumentStatus{DocumentDraft, DocumentSubmitted, DocumentApproved, DocumentCompleted},
	Edges: map[DocumentStatus][]DocumentStatus{
		DocumentDraft:     {DocumentSubmitted, DocumentCancelled},
		DocumentSubmitted: {DocumentApproved, DocumentRejected, DocumentCancelled},
		DocumentApproved:  {DocumentCompleted, DocumentCancelled},
		DocumentRejected:  {DocumentDraft},
		DocumentCompleted: {},
		DocumentCancelled: {},
	},
}

var internalFlow = workflow.Machine[LabInternalStatus]{
	Entity: "lab internal",
	Order: []LabInternalStatus{
		InternalWaitingApproval, InternalSampleReceived, InternalTechnicianAssigned,
		InternalTesting, InternalResultsUploaded, InternalReviewed, InternalCompleted,
	},
	Edges: map[LabInternalStatus][]LabInternalStatus{
		InternalWaitingApproval:    {InternalSampleReceived, InternalTechnicianAssigned, InternalRejected},
		InternalSampleReceived:     {InternalTechnicianAssigned, InternalRejected},
		InternalTechnicianAssigned: {InternalTesting, InternalResultsUploaded, InternalRejected},
		InternalTesting:            {InternalResultsUploaded, InternalRejected},
		InternalResultsUploaded:    {InternalTesting, InternalReviewed},
		InternalReviewed:           {InternalCompleted, InternalTesting},
		InternalCompleted:          {},
		InternalRejected:           {},
	},
}

var sampleFlow = workflow.Machine[SampleStatus]{
	Entity: "sample",
	Order:  []SampleStatus{SamplePending, SampleReceived, SampleInTesting, SampleCompleted},
	Edges: map[SampleStatus][]SampleStatus{
		SamplePending:   {SampleReceived, SampleInTesting, SampleRejected},
		SampleReceived:  {SampleInTesting, SampleRejected},
		SampleInTesting: {SampleCompleted, SampleRejected},
		SampleCompleted: {SampleRejected},
		SampleRejected:  {},
	},
}

var resultFlow = workflow.Machine[LabResultStatus]{
	Entity: "lab result",
	Order:  []LabResultStatus{ResultPending, ResultPartial, ResultCompleted, ResultReviewed, ResultApproved},
	Edges: map[LabResultStatus][]LabResultStatus{
		ResultPending:   {ResultPartial, ResultRejected},
		ResultPartial:   {ResultCompleted, ResultRejected},
		ResultCompleted: {ResultReviewed, ResultRejected},
		ResultReviewed:  {ResultApproved, ResultRejected},
		ResultApproved:  {},
		ResultRejected:  {},
	},
}

// completedOrLater are the test statuses that count as finished work.
var completedOrLater = []LabResultStatus{ResultCompleted, ResultReviewed, ResultApproved}

// frozen reports whether results of a test in status s may no longer change.
func frozen(s LabResultStatus) bool {
	return s == ResultReviewed || s == ResultApproved || s == ResultRejected
}

// IsOpen reports whether a request still has lab work outstanding.
func (s LabInternalStatus) IsOpen() bool {
	return !internalFlow.Terminal(s)
}

func (s DocumentStatus) Valid() bool    { return documentFlow.Known(s) }
func (s LabInternalStatus) Valid() bool { return internalFlow.Known(s) }
func (s SampleStatus) Valid() bool      { return sampleFlow.Known(s) }
func (s LabResultStatus) Valid() bool   { return resultFlow.Known(s) }
