// Package transports registers every built-in backend with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/evalflow/transport/aws"
	_ "github.com/drblury/evalflow/transport/channel"
	_ "github.com/drblury/evalflow/transport/http"
	_ "github.com/drblury/evalflow/transport/jetstream"
	_ "github.com/drblury/evalflow/transport/kafka"
	_ "github.com/drblury/evalflow/transport/nats"
	_ "github.com/drblury/evalflow/transport/rabbitmq"
)
