package client

// Player message kinds, the data.id of a /service/player push.
const (
	kindQuestionReady    = 1
	kindQuestionStart    = 2
	kindQuizEnd          = 3
	kindTimeOver         = 4
	kindGameReset        = 5
	kindQuestionEnd      = 8
	kindQuizStart        = 9
	kindKicked           = 10
	kindFeedback         = 12
	kindPodium           = 13
	kindNameAccept       = 14
	kindRecoveryData     = 17
	kindTeamAccept       = 19
	kindTeamTalk         = 20
	kindTwoFactorWrong   = 51
	kindTwoFactorCorrect = 52
	kindTwoFactorReset   = 53
)

const (
	gameModeChallenge = "challenge"
	blockTypeContent  = "content"
)
