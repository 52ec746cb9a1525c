package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General    Category = "General"
	IO         Category = "IO"
	Internal   Category = "Internal"
	Broker     Category = "Broker"
	Dispatch   Category = "Dispatch"
	MatchMaker Category = "MatchMaker"
	Mongo      Category = "Mongo"
	Validation Category = "Validation"
	Prometheus Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	ExternalService SubCategory = "ExternalService"

	// Broker
	Topology SubCategory = "Topology"
	Publish  SubCategory = "Publish"
	Consume  SubCategory = "Consume"
	Reply    SubCategory = "Reply"

	// Dispatch
	Handler   SubCategory = "Handler"
	EventLoop SubCategory = "EventLoop"
	Ack       SubCategory = "Ack"

	// MatchMaker
	Tickets    SubCategory = "Tickets"
	Allocation SubCategory = "Allocation"
	Cycle      SubCategory = "Cycle"
)

const (
	AppName       ExtraKey = "AppName"
	LoggerName    ExtraKey = "Logger"
	MessageID     ExtraKey = "MessageId"
	MessageType   ExtraKey = "MessageType"
	CorrelationID ExtraKey = "CorrelationId"
	ReplyTo       ExtraKey = "ReplyTo"
	Queue         ExtraKey = "Queue"
	Exchange      ExtraKey = "Exchange"
	RoutingKey    ExtraKey = "RoutingKey"
	TicketID      ExtraKey = "TicketId"
	UserID        ExtraKey = "UserId"
	ServerID      ExtraKey = "ServerId"
	ArenaID       ExtraKey = "ArenaId"
	ErrorMessage  ExtraKey = "ErrorMessage"
	Count         ExtraKey = "Count"
	RepoID        ExtraKey = "RepoId"
	Envelope      ExtraKey = "Envelope"
)
