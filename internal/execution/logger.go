package execution

import "coder-cli/internal/logger"

// log 复用全局 logger。
var log = logger.Named("orchestrator")
