package main

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	awsapigatewayv2 "github.com/aws/aws-cdk-go/awscdk/v2/awsapigatewayv2"
	apigwint "github.com/aws/aws-cdk-go/awscdk/v2/awsapigatewayv2integrations"
	awsdynamodb "github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	awsiam "github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	awslambda "github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

const (
	resourceNameTable        = "SpotiduckTable"
	resourceNameFunction     = "WebsocketHandler"
	resourceNameAPI          = "SpotiduckApi"
	resourceNameStage        = "ProdStage"
	resourceNameOutputAPIURL = "WSApiURL"

	routeKeyConnect      = "$connect"
	routeKeyDisconnect   = "$disconnect"
	routeKeyGetToken     = "getSpotifyToken"
	routeKeyUpdateToken  = "updateToken"
	routeKeyRefreshToken = "refreshSpotifyToken"
	routeKeyUpdateVolume = "updateVolume"
	routeKeyCommand      = "spotifyCommand"

	apiName                    = "SpotiduckWebsocketApi"
	routeSelectionExpression   = "$request.body.action"
	stageName                  = "$default"
	lambdaHandler              = "bootstrap"
	lambdaCodePath             = "../../build"
	envVarTable                = "SPOTIDUCK_TABLE"
	iamActionManageConnections = "execute-api:ManageConnections"
	iamResourcePattern         = "arn:aws:execute-api:%s:%s:%s/$default/POST/@connections/*"
)

func NewSpotiduckStack(scope constructs.Construct, id string, props *awscdk.StackProps) awscdk.Stack {
	stack := awscdk.NewStack(scope, &id, props)

	table := createDynamoDBTable(stack)
	function := createLambdaFunction(stack, table)
	api := createWebSocketAPI(stack, function)
	createStage(stack, api)
	grantAPIPermissions(stack, function, api)
	createOutputs(stack, api)

	return stack
}

func createDynamoDBTable(stack awscdk.Stack) awsdynamodb.Table {
	return awsdynamodb.NewTable(stack, jsii.String(resourceNameTable), &awsdynamodb.TableProps{
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String("pk"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
	})
}

func createLambdaFunction(stack awscdk.Stack, table awsdynamodb.Table) awslambda.Function {
	fn := awslambda.NewFunction(stack, jsii.String(resourceNameFunction), &awslambda.FunctionProps{
		Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
		Architecture: awslambda.Architecture_ARM_64(),
		Handler:      jsii.String(lambdaHandler),
		Code:         awslambda.Code_FromAsset(jsii.String(lambdaCodePath), nil),
		Environment: &map[string]*string{
			envVarTable: table.TableName(),
		},
	})

	table.GrantReadWriteData(fn)

	return fn
}

func createWebSocketAPI(stack awscdk.Stack, function awslambda.Function) awsapigatewayv2.WebSocketApi {
	api := awsapigatewayv2.NewWebSocketApi(stack, jsii.String(resourceNameAPI), &awsapigatewayv2.WebSocketApiProps{
		ApiName:                  jsii.String(apiName),
		RouteSelectionExpression: jsii.String(routeSelectionExpression),
		ConnectRouteOptions: &awsapigatewayv2.WebSocketRouteOptions{
			Integration: apigwint.NewWebSocketLambdaIntegration(
				jsii.String("ConnectIntegration"),
				function,
				&apigwint.WebSocketLambdaIntegrationProps{},
			),
		},
		DisconnectRouteOptions: &awsapigatewayv2.WebSocketRouteOptions{
			Integration: apigwint.NewWebSocketLambdaIntegration(
				jsii.String("DisconnectIntegration"),
				function,
				&apigwint.WebSocketLambdaIntegrationProps{},
			),
		},
	})

	addRoute(api, routeKeyGetToken, "GetTokenIntegration", function)
	addRoute(api, routeKeyUpdateToken, "UpdateTokenIntegration", function)
	addRoute(api, routeKeyRefreshToken, "RefreshTokenIntegration", function)
	addRoute(api, routeKeyUpdateVolume, "UpdateVolumeIntegration", function)
	addRoute(api, routeKeyCommand, "CommandIntegration", function)

	return api
}

func addRoute(api awsapigatewayv2.WebSocketApi, routeKey, integrationName string, function awslambda.Function) {
	api.AddRoute(jsii.String(routeKey), &awsapigatewayv2.WebSocketRouteOptions{
		Integration: apigwint.NewWebSocketLambdaIntegration(
			jsii.String(integrationName),
			function,
			&apigwint.WebSocketLambdaIntegrationProps{},
		),
	})
}

func createStage(stack awscdk.Stack, api awsapigatewayv2.WebSocketApi) {
	awsapigatewayv2.NewWebSocketStage(stack, jsii.String(resourceNameStage), &awsapigatewayv2.WebSocketStageProps{
		WebSocketApi: api,
		StageName:    jsii.String(stageName),
		AutoDeploy:   jsii.Bool(true),
	})
}

func grantAPIPermissions(stack awscdk.Stack, function awslambda.Function, api awsapigatewayv2.WebSocketApi) {
	postArn := fmt.Sprintf(
		iamResourcePattern,
		*stack.Region(),
		*stack.Account(),
		*api.ApiId(),
	)

	function.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   &[]*string{jsii.String(iamActionManageConnections)},
		Resources: &[]*string{jsii.String(postArn)},
	}))
}

func createOutputs(stack awscdk.Stack, api awsapigatewayv2.WebSocketApi) {
	awscdk.NewCfnOutput(stack, jsii.String(resourceNameOutputAPIURL), &awscdk.CfnOutputProps{
		Value:       api.ApiEndpoint(),
		Description: jsii.String("WebSocket API URL"),
	})
}

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)
	NewSpotiduckStack(app, "SpotiduckStack", &awscdk.StackProps{})
	app.Synth(nil)
}
