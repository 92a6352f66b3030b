package app

// Command はmainの第1引数で選択される起動モードを表す。
type Command string

const (
	// CommandServe はHTTP APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は同期スケジューラとニュース監視のワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーママイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを叩いて終了する。
	// シェルを持たないコンテナイメージのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数から起動モードを解析する。
// 引数なし、または未知のコマンドはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "worker":
		return CommandWorker
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
