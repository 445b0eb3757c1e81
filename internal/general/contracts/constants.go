package contracts

// Exchanges
const (
	ExchangeTripTopic      = "trip_topic"
	ExchangeLocationFanout = "location_fanout"
)

// Queues
const (
	QueueTripStatus      = "trip_status"
	QueueLocationUpdates = "location_updates"
	QueueDispatchControl = "dispatch_control"
)

// Routing patterns
const (
	RouteTripStatusPrefix = "trip.status." // {status}
	RouteDispatchControl  = "dispatch.control"
)

// WebSocket namespaces (HTTP upgrade paths)
const (
	PathCaptainWS   = "/ws/captain"
	PathPassengerWS = "/ws/customer"
	PathAdminWS     = "/ws/admin"
)
