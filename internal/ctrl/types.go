package ctrl

import (
	"strconv"

	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

// Options configures a Controller.
type Options struct {
	// URing submits commands through an io_uring instead of write(2).
	URing bool

	// URingEntries sizes that ring; zero picks a default.
	URingEntries uint32

	Logger *logging.Logger
}

func DefaultOptions() Options {
	return Options{Logger: logging.Default()}
}

func commandName(cmd uint32) string {
	switch cmd {
	case uapi.IB_USER_VERBS_CMD_GET_CONTEXT:
		return "GET_CONTEXT"
	case uapi.IB_USER_VERBS_CMD_CREATE_CQ:
		return "CREATE_CQ"
	case uapi.IB_USER_VERBS_CMD_DESTROY_CQ:
		return "DESTROY_CQ"
	case uapi.IB_USER_VERBS_CMD_CREATE_QP:
		return "CREATE_QP"
	case uapi.IB_USER_VERBS_CMD_DESTROY_QP:
		return "DESTROY_QP"
	case uapi.IB_USER_VERBS_CMD_POST_SEND:
		return "POST_SEND"
	case uapi.IB_USER_VERBS_CMD_POST_RECV:
		return "POST_RECV"
	default:
		return "CMD_" + strconv.FormatUint(uint64(cmd), 10)
	}
}
