package broker

// Upstream application-endpoint URLs the façade calls through the Upstream
// Client's generic Call (§4.B.3). Grounded on the same appHost the Upstream
// Client's SSO flow redirects back to; paths are the broker's own concern,
// opaque to component B.
const (
	identityURL    = "https://attendance-app.mirea.ru/api/users/me"
	groupsURL      = "https://attendance-app.mirea.ru/api/users/me/groups"
	scheduleURL    = "https://attendance-app.mirea.ru/api/schedule"
	selfApproveURL = "https://attendance-app.mirea.ru/api/grpc/attendance.AttendanceService/SelfApprove"
)
