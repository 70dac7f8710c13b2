/*
Package `courier` is an asynchronous HTTP client: exchanges are executed on a
background transfer loop and bodies stream incrementally in both directions,
so many concurrent requests share a small, fixed number of threads.

Clients are built with New around a transport engine (package [`wire`](/pkg/wire))
or an existing loop (package [`reactor`](/pkg/reactor)), and compose the
cross-cutting stages in [`transport`](/pkg/transport): redirects, cookies,
caching, telemetry. SendAsync returns a Transfer that resolves when the
response head arrives; Do is the blocking equivalent.
*/
package courier
