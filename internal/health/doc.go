// Package health serves liveness and readiness endpoints.
//
// [Readiness] collects named dependency checks in registration order and
// carries the drain switch flipped at shutdown, so load balancers stop
// routing before in-flight requests finish. [Healthy], [Failing] and
// [When] build simple checks; [CheckFunc] adapts a plain function.
package health
